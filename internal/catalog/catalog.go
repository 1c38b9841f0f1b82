// Package catalog holds the ordered menus the bot sells from. Item order is
// significant: customers may reference items by 1-based position.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

type Item struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// Catalog is an ordered list of items with a name lookup. Two instances
// exist, one per membership tier; they are configured independently even
// when the prices happen to match.
type Catalog struct {
	items  []Item
	prices map[string]int64
}

func New(items []Item) *Catalog {
	c := &Catalog{
		items:  items,
		prices: make(map[string]int64, len(items)),
	}
	for _, it := range items {
		c.prices[it.Name] = it.Price
	}
	return c
}

func defaultItems() []Item {
	return []Item{
		{Name: "Sprouts Salad", Price: 50},
		{Name: "Protein Bowl", Price: 55},
		{Name: "Chia Pudding", Price: 65},
		{Name: "Oats + Chia", Price: 65},
		{Name: "Papaya Bowl", Price: 50},
		{Name: "Pineapple Bowl", Price: 50},
		{Name: "Muskmelon Bowl", Price: 50},
		{Name: "Watermelon Bowl", Price: 50},
		{Name: "Mixed Fruit Bowl", Price: 65},
		{Name: "Protein Veg Salad", Price: 155},
	}
}

// Member returns the member-tier menu.
func Member() *Catalog { return New(defaultItems()) }

// Guest returns the cash-tier menu.
func Guest() *Catalog { return New(defaultItems()) }

func (c *Catalog) Items() []Item { return c.items }

func (c *Catalog) Price(name string) (int64, bool) {
	p, ok := c.prices[name]
	return p, ok
}

// Resolve maps a customer-typed identifier to a catalog item name. A purely
// numeric identifier is a 1-based index into the menu order; anything else
// matches the first item whose name contains the identifier,
// case-insensitively.
func (c *Catalog) Resolve(identifier string) (string, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", false
	}
	if isDigits(identifier) {
		idx, err := strconv.Atoi(identifier)
		if err == nil && idx >= 1 && idx <= len(c.items) {
			return c.items[idx-1].Name, true
		}
		return "", false
	}
	needle := strings.ToLower(identifier)
	for _, it := range c.items {
		if strings.Contains(strings.ToLower(it.Name), needle) {
			return it.Name, true
		}
	}
	return "", false
}

// Render formats the menu as a numbered list for a chat reply.
func (c *Catalog) Render() string {
	var b strings.Builder
	for i, it := range c.items {
		fmt.Fprintf(&b, "%d. %s - ₹%d\n", i+1, it.Name, it.Price)
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
