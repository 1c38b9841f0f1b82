// Package cart implements the in-progress order: a quantity map mutated by
// free-text add/remove instructions and priced against the active catalog.
package cart

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nutritheory/merchant-bot/internal/catalog"
)

// Cart maps catalog item name to quantity. Quantities are always positive;
// an operation that would drop a quantity to zero or below removes the
// entry instead.
type Cart map[string]int

func New() Cart { return make(Cart) }

// instrRe matches "<identifier> x <qty>" with a flexible separator, e.g.
// "2x4", "Protein Bowl * 2", "item 1 X 3".
var instrRe = regexp.MustCompile(`(.+?)\s*[xX*]\s*(\d+)`)

type Instruction struct {
	Identifier string
	Qty        int
	Remove     bool
}

// Parse splits a message into instructions by comma or newline. Fragments
// that do not match the quantity pattern are dropped.
func Parse(text string) []Instruction {
	var out []Instruction
	for _, line := range regexp.MustCompile(`[,\n]`).Split(text, -1) {
		line = strings.TrimSpace(line)
		remove := false
		if len(line) >= 6 && strings.EqualFold(line[:6], "remove") {
			remove = true
			line = strings.TrimSpace(line[6:])
		}
		m := instrRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		qty, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, Instruction{
			Identifier: strings.TrimSpace(m[1]),
			Qty:        qty,
			Remove:     remove,
		})
	}
	return out
}

// Apply resolves each instruction against the menu and mutates the cart.
// It returns one human-readable note per instruction and whether at least
// one instruction resolved to a known item. Unresolvable identifiers are
// noted and skipped; the rest of the message still applies.
func (c Cart) Apply(menu *catalog.Catalog, instrs []Instruction) (notes []string, resolved bool) {
	for _, in := range instrs {
		name, ok := menu.Resolve(in.Identifier)
		if !ok {
			notes = append(notes, fmt.Sprintf("Not found: %s", in.Identifier))
			continue
		}
		resolved = true
		switch {
		case in.Remove:
			current, held := c[name]
			if !held {
				notes = append(notes, fmt.Sprintf("Not in cart: %s", name))
				continue
			}
			if in.Qty >= current {
				delete(c, name)
				notes = append(notes, fmt.Sprintf("Removed: %s", name))
			} else {
				c[name] = current - in.Qty
				notes = append(notes, fmt.Sprintf("Decreased: %s (now x%d)", name, c[name]))
			}
		case in.Qty > 0:
			c[name] += in.Qty
			notes = append(notes, fmt.Sprintf("Added: %s x %d", name, in.Qty))
		default:
			// Explicit zero quantity clears the entry if present.
			if _, held := c[name]; held {
				delete(c, name)
				notes = append(notes, fmt.Sprintf("Removed: %s", name))
			}
		}
	}
	return notes, resolved
}

// Total recomputes the cart total from scratch at the menu's current
// prices.
func (c Cart) Total(menu *catalog.Catalog) int64 {
	var total int64
	for name, qty := range c {
		if price, ok := menu.Price(name); ok {
			total += price * int64(qty)
		}
	}
	return total
}

// Table renders the cart in menu order as "Item | Qty | Price" rows and
// returns the freshly computed total.
func (c Cart) Table(menu *catalog.Catalog) (string, int64) {
	var b strings.Builder
	b.WriteString("Item | Qty | Price\n")
	b.WriteString(strings.Repeat("-", 25) + "\n")

	var total int64
	for _, it := range menu.Items() {
		qty, held := c[it.Name]
		if !held {
			continue
		}
		cost := it.Price * int64(qty)
		total += cost
		fmt.Fprintf(&b, "%s | %d | ₹%d\n", it.Name, qty, cost)
	}
	b.WriteString(strings.Repeat("-", 25) + "\n")
	return b.String(), total
}

// Summary renders the cart in menu order as a compact one-line snapshot,
// e.g. "Protein Bowl x2, Chia Pudding x1". This is what gets frozen onto
// an order at commit time.
func (c Cart) Summary(menu *catalog.Catalog) string {
	var parts []string
	for _, it := range menu.Items() {
		if qty, held := c[it.Name]; held {
			parts = append(parts, fmt.Sprintf("%s x%d", it.Name, qty))
		}
	}
	return strings.Join(parts, ", ")
}

func (c Cart) Empty() bool { return len(c) == 0 }
