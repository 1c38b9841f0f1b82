// Package application drives the per-identity ordering dialogue: a finite
// state machine that accumulates a cart, gates checkout on funds, and
// hands terminal transitions to the commit coordinator.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nutritheory/merchant-bot/internal/cart"
	"github.com/nutritheory/merchant-bot/internal/catalog"
	"github.com/nutritheory/merchant-bot/internal/conversation/domain"
	orderapp "github.com/nutritheory/merchant-bot/internal/order/application"
	orderdomain "github.com/nutritheory/merchant-bot/internal/order/domain"
)

const (
	placeOrderLabel = "Place Order"
	shopName        = "Neutrious Theory"
	dateFormat      = "02-01-2006"

	// Today's delivery can only be ordered before this local hour.
	deliveryCutoffHour = 8
)

var greetingRe = regexp.MustCompile(`(?i)^(hi|hello|good)`)

// Engine consumes inbound text events and emits replies. One instance
// serves every identity; per-identity serialization comes from the
// session store's per-session lock.
type Engine struct {
	log        *slog.Logger
	repo       orderapp.Repository
	commits    *orderapp.Coordinator
	cancels    *orderapp.CancelEngine
	memberMenu *catalog.Catalog
	guestMenu  *catalog.Catalog
	sessions   *SessionStore
	now        orderapp.Clock
}

func NewEngine(
	log *slog.Logger,
	repo orderapp.Repository,
	commits *orderapp.Coordinator,
	cancels *orderapp.CancelEngine,
	memberMenu, guestMenu *catalog.Catalog,
) *Engine {
	return &Engine{
		log:        log,
		repo:       repo,
		commits:    commits,
		cancels:    cancels,
		memberMenu: memberMenu,
		guestMenu:  guestMenu,
		sessions:   NewSessionStore(),
		now:        time.Now,
	}
}

// HandleMessage processes one inbound event for its identity and returns
// the reply. The identity's session lock is held for the whole turn.
func (e *Engine) HandleMessage(ctx context.Context, in domain.Inbound) domain.Reply {
	sess, release := e.sessions.Acquire(in.Identity)
	defer release()

	text := strings.TrimSpace(in.Text)
	lower := strings.ToLower(text)

	// Out-of-band cancel command, valid from any state. The phrase counts
	// wherever it appears in the message.
	if strings.HasPrefix(lower, "/cancel_order") || strings.Contains(lower, "cancel order") {
		return e.handleCancelCommand(ctx, sess, text)
	}

	switch {
	case lower == "/start" || greetingRe.MatchString(text):
		sess.Reset()
		return e.welcome()
	case lower == "/cancel":
		sess.Reset()
		return domain.Reply{Text: "Operation cancelled. Say hi to start again."}
	}

	switch sess.State {
	case domain.StatePlanSelection:
		return e.handlePlanSelection(sess, text)
	case domain.StateMemberLoginID, domain.StateMemberLoginPIN:
		return e.handleLogin(ctx, sess, text)
	case domain.StateMemberShopping, domain.StateNonMemberShopping:
		return e.handleShopping(ctx, sess, text, lower)
	case domain.StateMemberDeliveryChoice:
		return e.handleDeliveryChoice(ctx, sess, text, lower)
	case domain.StateMemberPreorderDate:
		return e.handlePreorderConfirm(ctx, sess, lower)
	case domain.StateTakeawaySelection:
		return e.handleTakeaway(ctx, sess, text)
	}
	sess.Reset()
	return e.welcome()
}

func (e *Engine) welcome() domain.Reply {
	text := fmt.Sprintf(
		"%s\n\nWelcome to %s.\nYour health, our priority.\n\n"+
			"Please select your plan:\n1. Membership\n2. Non-Membership\n\nReply with 1 or 2",
		greeting(e.now().Hour()), shopName)
	return domain.Reply{Text: text}
}

func greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "Good Morning"
	case hour >= 12 && hour < 17:
		return "Good Afternoon"
	case hour >= 17 && hour < 21:
		return "Good Evening"
	default:
		return "Good Night"
	}
}

func (e *Engine) handlePlanSelection(sess *domain.Session, text string) domain.Reply {
	switch text {
	case "1":
		sess.State = domain.StateMemberLoginID
		return domain.Reply{Text: "Please enter your Membership ID:"}
	case "2":
		sess.IsMember = false
		sess.Cart = cart.New()
		sess.State = domain.StateNonMemberShopping
		return domain.Reply{
			Text: "Today's menu (non-member):\n\n" + e.guestMenu.Render() +
				"\nReply like:\n1 x 2 (item 1, qty 2)\nProtein Bowl * 1",
			Options: []string{placeOrderLabel},
		}
	default:
		return domain.Reply{Text: "Invalid option. Reply with 1 or 2."}
	}
}

func (e *Engine) handleLogin(ctx context.Context, sess *domain.Session, text string) domain.Reply {
	if sess.State == domain.StateMemberLoginID {
		sess.PendingLoginID = text
		sess.State = domain.StateMemberLoginPIN
		return domain.Reply{Text: "Enter your 4-digit PIN:"}
	}

	member, err := e.repo.VerifyMember(ctx, sess.PendingLoginID, text)
	if errors.Is(err, orderapp.ErrAuth) {
		sess.PendingLoginID = ""
		sess.State = domain.StateMemberLoginID
		return domain.Reply{Text: "Invalid ID or PIN. Try again from your Membership ID."}
	}
	if err != nil {
		e.log.Error("member verification failed", "identity", sess.Identity, "err", err)
		return domain.Reply{Text: genericFailure}
	}

	sess.Member = &member
	sess.IsMember = true
	sess.Cart = cart.New()
	sess.PendingLoginID = ""
	sess.State = domain.StateMemberShopping
	e.sessions.RememberMember(sess.Identity, member.ID)

	text = fmt.Sprintf(
		"PIN verified.\n\nMembership balance: ₹%d\n\nToday's menu:\n%s"+
			"\nReply like:\n2 x 3 (item 2, qty 3)\nProtein Bowl * 2",
		member.Coins, e.memberMenu.Render())
	return domain.Reply{Text: text, Options: []string{placeOrderLabel}}
}

func (e *Engine) handleShopping(ctx context.Context, sess *domain.Session, text, lower string) domain.Reply {
	switch lower {
	case "place order", "checkout", strings.ToLower(placeOrderLabel):
		if sess.Cart.Empty() {
			return domain.Reply{Text: "Cart is empty.", Options: []string{placeOrderLabel}}
		}
		if sess.IsMember {
			return e.startCheckout(ctx, sess)
		}
		return e.startTakeawaySelection(sess)
	}

	if sess.IsMember && (lower == "balance" || lower == "coins" || lower == "membership balance") {
		coins, err := e.repo.GetBalance(ctx, sess.Member.ID)
		if err != nil {
			e.log.Error("balance read failed", "member_id", sess.Member.ID, "err", err)
			return domain.Reply{Text: genericFailure}
		}
		return domain.Reply{
			Text:    fmt.Sprintf("Membership balance\n\nAvailable: ₹%d\nStatus: Active", coins),
			Options: []string{placeOrderLabel},
		}
	}

	menu := e.activeMenu(sess)
	notes, resolved := sess.Cart.Apply(menu, cart.Parse(text))
	if !resolved {
		return domain.Reply{
			Text:    "Format not recognized. Try: 2x3 or Protein Bowl x2",
			Options: []string{placeOrderLabel},
		}
	}

	table, total := sess.Cart.Table(menu)
	var b strings.Builder
	b.WriteString(strings.Join(notes, "\n"))
	b.WriteString("\n\nYour cart updated\n")
	b.WriteString(table)
	if sess.IsMember {
		fmt.Fprintf(&b, "Total: ₹%d\n", total)
		fmt.Fprintf(&b, "Your balance: ₹%d\n", sess.Member.Coins)
	} else {
		fmt.Fprintf(&b, "Total amount: ₹%d\n", total)
	}
	b.WriteString("\nType more items or choose Place Order")
	return domain.Reply{Text: b.String(), Options: []string{placeOrderLabel}}
}

// startCheckout is the funds pre-check gate: the cart is priced at current
// catalog prices, the authoritative balance re-read, and the computed
// total cached on the session for the commit step.
func (e *Engine) startCheckout(ctx context.Context, sess *domain.Session) domain.Reply {
	total := sess.Cart.Total(e.memberMenu)
	balance, err := e.repo.GetBalance(ctx, sess.Member.ID)
	if err != nil {
		e.log.Error("balance read failed", "member_id", sess.Member.ID, "err", err)
		return domain.Reply{Text: genericFailure, Options: []string{placeOrderLabel}}
	}
	if total > balance {
		return domain.Reply{
			Text: fmt.Sprintf(
				"Insufficient membership balance\n\nRequired: ₹%d\nAvailable: ₹%d\n\n"+
					"Please remove items or recharge membership.",
				total, balance),
			Options: []string{placeOrderLabel},
		}
	}

	sess.CommittedTotal = total
	sess.State = domain.StateMemberDeliveryChoice

	if e.now().Hour() < deliveryCutoffHour {
		return domain.Reply{Text: "Order ready for processing.\n\n" +
			"Select service type:\n" +
			"1. Today's delivery (6:00 AM - 9:00 AM)\n" +
			"2. Pre-order for later\n" +
			"3. Takeaway\n\n" +
			"Reply 1, 2, 3 or Cancel"}
	}
	return domain.Reply{Text: "Order ready for processing.\n\n" +
		"Today's delivery closed (order before 8 AM).\n\n" +
		"Select service type:\n" +
		"2. Pre-order for tomorrow\n" +
		"3. Takeaway\n\n" +
		"Reply 2, 3 or Cancel"}
}

func (e *Engine) handleDeliveryChoice(ctx context.Context, sess *domain.Session, text, lower string) domain.Reply {
	switch {
	case text == "1":
		if e.now().Hour() >= deliveryCutoffHour {
			return domain.Reply{Text: "Today's delivery closed. Try pre-order (2) or takeaway (3)."}
		}
		info := fmt.Sprintf("Delivery\nDate: %s (today)\nSlot: 6:00 AM - 9:00 AM",
			e.now().Format(dateFormat))
		return e.commitMemberOrder(ctx, sess, orderdomain.TypeImmediate, nil, info)

	case text == "2":
		tomorrow := e.tomorrow()
		sess.PreorderDate = &tomorrow
		sess.State = domain.StateMemberPreorderDate
		return domain.Reply{Text: fmt.Sprintf(
			"Pre-order selected.\n\nOrdering for date: %s (tomorrow)\n"+
				"Delivery slot: 6:00 AM - 9:00 AM\n\n"+
				"Reply 'yes' to confirm or 'cancel' to go back.",
			tomorrow.Format(dateFormat))}

	case text == "3":
		info := "Takeaway\nReady in: 20 minutes"
		return e.commitMemberOrder(ctx, sess, orderdomain.TypeTakeaway, nil, info)

	case lower == "cancel" || text == "4":
		sess.State = domain.StateMemberShopping
		return domain.Reply{
			Text:    "Delivery selection cancelled. Returning to cart.",
			Options: []string{placeOrderLabel},
		}
	default:
		return domain.Reply{Text: "Invalid choice. Reply 1, 2, 3 or Cancel."}
	}
}

func (e *Engine) handlePreorderConfirm(ctx context.Context, sess *domain.Session, lower string) domain.Reply {
	switch lower {
	case "yes", "y", "confirm":
		date := sess.PreorderDate
		info := fmt.Sprintf("Delivery\nDate: %s\nSlot: 6:00 AM - 9:00 AM",
			date.Format(dateFormat))
		return e.commitMemberOrder(ctx, sess, orderdomain.TypePreorder, date, info)
	case "cancel", "no", "stop":
		sess.PreorderDate = nil
		sess.State = domain.StateMemberShopping
		return domain.Reply{
			Text:    "Pre-order not confirmed. Back to your cart.",
			Options: []string{placeOrderLabel},
		}
	default:
		return domain.Reply{Text: "Please reply 'yes' to confirm or 'cancel' to stop."}
	}
}

// commitMemberOrder is the terminal transition for member orders. The
// commit re-validates the cached total against the authoritative balance
// inside the repository transaction.
func (e *Engine) commitMemberOrder(ctx context.Context, sess *domain.Session, typ orderdomain.OrderType, deliveryDate *time.Time, fulfilment string) domain.Reply {
	table, _ := sess.Cart.Table(e.memberMenu)
	res, err := e.commits.CommitOrder(ctx, orderapp.CommitRequest{
		OwnerID:      sess.Member.ID,
		Cart:         sess.Cart,
		Type:         typ,
		DeliveryDate: deliveryDate,
		IsMember:     true,
		Total:        sess.CommittedTotal,
	})
	if errors.Is(err, orderapp.ErrInsufficientFunds) {
		sess.State = domain.StateMemberShopping
		return domain.Reply{
			Text:    "Insufficient membership balance. Please remove items or recharge.",
			Options: []string{placeOrderLabel},
		}
	}
	if err != nil {
		e.log.Error("member commit failed", "member_id", sess.Member.ID, "err", err)
		return domain.Reply{Text: genericFailure}
	}

	text := fmt.Sprintf(
		"Thank you for your order!\n\nBill details:\n%sTotal used: ₹%d\n\n"+
			"Remaining balance: ₹%d\n\n%s\n\nOrder ID: %d\nTo cancel, type /cancel_order",
		table, res.Order.Amount, res.NewBalance, fulfilment, res.Order.ID)
	sess.Reset()
	return domain.Reply{Text: text}
}

func (e *Engine) startTakeawaySelection(sess *domain.Session) domain.Reply {
	table, total := sess.Cart.Table(e.guestMenu)
	sess.CommittedTotal = total
	sess.State = domain.StateTakeawaySelection
	return domain.Reply{Text: fmt.Sprintf(
		"Order summary\n\n%sTotal amount: ₹%d\n\n"+
			"Please select takeaway time:\n1. 15 minutes\n2. 30 minutes\n3. 45 minutes",
		table, total)}
}

func (e *Engine) handleTakeaway(ctx context.Context, sess *domain.Session, text string) domain.Reply {
	slots := map[string]string{"1": "15 minutes", "2": "30 minutes", "3": "45 minutes"}
	pickup, ok := slots[text]
	if !ok {
		return domain.Reply{Text: "Please reply 1, 2, or 3."}
	}

	res, err := e.commits.CommitOrder(ctx, orderapp.CommitRequest{
		Cart:     sess.Cart,
		Type:     orderdomain.TypeTakeaway,
		IsMember: false,
	})
	if err != nil {
		e.log.Error("guest commit failed", "identity", sess.Identity, "err", err)
		return domain.Reply{Text: genericFailure}
	}

	text = fmt.Sprintf(
		"Order confirmed!\n\nYour order ID: %d\nPlease pay ₹%d at the shop counter\n"+
			"Pickup time: %s\n\nThank you for visiting %s",
		res.Order.ID, res.Order.Amount, pickup, shopName)
	sess.Reset()
	return domain.Reply{Text: text}
}

// handleCancelCommand runs the cancellation engine outside the FSM. An
// explicit order id targets that order; otherwise the caller's last login
// identity is used to find their most recent active order.
func (e *Engine) handleCancelCommand(ctx context.Context, sess *domain.Session, text string) domain.Reply {
	// The order id may sit anywhere in the message ("cancel order 12",
	// "/cancel_order 12"); the first numeric token wins.
	var orderID int64
	for _, f := range strings.Fields(text) {
		if id, err := strconv.ParseInt(f, 10, 64); err == nil && id > 0 {
			orderID = id
			break
		}
	}

	var ownerID string
	if sess.Member != nil {
		ownerID = sess.Member.ID
	} else if id, ok := e.sessions.LastMember(sess.Identity); ok {
		ownerID = id
	}

	if orderID == 0 && ownerID == "" {
		return domain.Reply{Text: "Session expired or not found.\n" +
			"Please login again or provide your order ID.\n\n" +
			"Usage: /cancel_order <order id>\nExample: /cancel_order 12"}
	}

	res, err := e.cancels.CancelOrder(ctx, orderapp.CancelRequest{OrderID: orderID, OwnerID: ownerID})
	if err != nil {
		return domain.Reply{Text: "Cancel failed: " + orderapp.UserFacingReason(err)}
	}

	if !res.IsMember {
		return domain.Reply{Text: fmt.Sprintf(
			"Order cancelled successfully.\n\nOrder ID: %d\nNothing to pay at pickup.",
			res.Order.ID)}
	}
	// Refresh the display snapshot if the cancelling member is mid-dialogue.
	if sess.Member != nil && sess.Member.ID == res.Order.OwnerID {
		sess.Member.Coins = res.NewBalance
	}
	return domain.Reply{Text: fmt.Sprintf(
		"Order cancelled successfully.\n\nOrder ID: %d\nRefunded: ₹%d\nWallet balance: ₹%d\n\n"+
			"Thank you for visiting %s",
		res.Order.ID, res.Refunded, res.NewBalance, shopName)}
}

func (e *Engine) activeMenu(sess *domain.Session) *catalog.Catalog {
	if sess.IsMember {
		return e.memberMenu
	}
	return e.guestMenu
}

func (e *Engine) tomorrow() time.Time {
	y, m, d := e.now().AddDate(0, 0, 1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const genericFailure = "Something went wrong. Please try again."
