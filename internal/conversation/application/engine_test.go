package application

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutritheory/merchant-bot/internal/catalog"
	"github.com/nutritheory/merchant-bot/internal/conversation/domain"
	orderapp "github.com/nutritheory/merchant-bot/internal/order/application"
	orderdomain "github.com/nutritheory/merchant-bot/internal/order/domain"
	"github.com/nutritheory/merchant-bot/internal/order/infrastructure/memory"
)

func newTestEngine(now time.Time) (*Engine, *memory.Repository) {
	log := slog.New(slog.DiscardHandler)
	repo := memory.NewRepository()
	repo.Seed(memory.DemoMembers()...)

	commits := orderapp.NewCoordinator(log, repo, catalog.Member(), catalog.Guest())
	cancels := orderapp.NewCancelEngine(log, repo)
	e := NewEngine(log, repo, commits, cancels, catalog.Member(), catalog.Guest())
	e.now = func() time.Time { return now }
	return e, repo
}

func say(e *Engine, identity, text string) domain.Reply {
	return e.HandleMessage(context.Background(), domain.Inbound{Identity: identity, Text: text})
}

// login walks a fresh identity through the member login steps.
func login(t *testing.T, e *Engine, identity, memberID, pin string) domain.Reply {
	t.Helper()
	say(e, identity, "hi")
	r := say(e, identity, "1")
	require.Contains(t, r.Text, "Membership ID")
	r = say(e, identity, memberID)
	require.Contains(t, r.Text, "PIN")
	return say(e, identity, pin)
}

var midday = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestWelcomeAndPlanSelection(t *testing.T) {
	e, _ := newTestEngine(midday)

	r := say(e, "u1", "hello")
	assert.Contains(t, r.Text, "Good Morning")
	assert.Contains(t, r.Text, "select your plan")

	r = say(e, "u1", "9")
	assert.Contains(t, r.Text, "Invalid option. Reply with 1 or 2.")

	// Still in plan selection; a valid choice works.
	r = say(e, "u1", "2")
	assert.Contains(t, r.Text, "Today's menu (non-member)")
	assert.Equal(t, []string{placeOrderLabel}, r.Options)
}

func TestMemberLoginSuccess(t *testing.T) {
	e, _ := newTestEngine(midday)

	r := login(t, e, "u1", "97011", "1234")
	assert.Contains(t, r.Text, "PIN verified")
	assert.Contains(t, r.Text, "Membership balance: ₹1500")
	assert.Contains(t, r.Text, "1. Sprouts Salad - ₹50")
	assert.Equal(t, []string{placeOrderLabel}, r.Options)
}

func TestMemberLoginBadPINReturnsToIDStep(t *testing.T) {
	e, _ := newTestEngine(midday)

	r := login(t, e, "u1", "97011", "0000")
	assert.Contains(t, r.Text, "Invalid ID or PIN")

	// Back at the id step: the whole sequence works again from here.
	r = say(e, "u1", "97011")
	require.Contains(t, r.Text, "PIN")
	r = say(e, "u1", "1234")
	assert.Contains(t, r.Text, "PIN verified")
}

func TestMemberOrderScenario(t *testing.T) {
	// Member 97011, balance 1500: two Protein Bowls, takeaway checkout.
	e, repo := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	r := say(e, "u1", "Protein Bowl x 2")
	assert.Contains(t, r.Text, "Added: Protein Bowl x 2")
	assert.Contains(t, r.Text, "Total: ₹110")
	// Display balance is the login snapshot; nothing deducted yet.
	assert.Contains(t, r.Text, "Your balance: ₹1500")
	balance, _ := repo.GetBalance(context.Background(), "97011")
	assert.Equal(t, int64(1500), balance)

	r = say(e, "u1", "place order")
	require.Contains(t, r.Text, "Select service type")
	// 10:00 is past the delivery cutoff, so today's delivery is not offered.
	assert.Contains(t, r.Text, "Today's delivery closed")
	assert.NotContains(t, r.Text, "1. Today's delivery")

	r = say(e, "u1", "3")
	assert.Contains(t, r.Text, "Total used: ₹110")
	assert.Contains(t, r.Text, "Remaining balance: ₹1390")

	balance, _ = repo.GetBalance(context.Background(), "97011")
	assert.Equal(t, int64(1390), balance)

	orders, _ := repo.ListOrders(context.Background())
	require.Len(t, orders, 1)
	assert.Equal(t, int64(110), orders[0].Amount)
	assert.Equal(t, orderdomain.TypeTakeaway, orders[0].Type)
	assert.Equal(t, orderdomain.StatusActive, orders[0].Status)
	assert.Equal(t, "97011", orders[0].OwnerID)

	// Terminal transition reset the session back to plan selection.
	r = say(e, "u1", "1")
	assert.Contains(t, r.Text, "Membership ID")
}

func TestCheckoutRejectedOnInsufficientFunds(t *testing.T) {
	// Member 77452 has 50 coins; a 110-coin cart must not pass the gate.
	e, repo := newTestEngine(midday)
	login(t, e, "u1", "77452", "1234")

	say(e, "u1", "Protein Bowl x 2")
	r := say(e, "u1", "place order")
	assert.Contains(t, r.Text, "Insufficient membership balance")
	assert.Contains(t, r.Text, "Required: ₹110")
	assert.Contains(t, r.Text, "Available: ₹50")

	balance, _ := repo.GetBalance(context.Background(), "77452")
	assert.Equal(t, int64(50), balance)
	orders, _ := repo.ListOrders(context.Background())
	assert.Empty(t, orders)

	// Still shopping: the cart can be trimmed and checked out again.
	say(e, "u1", "remove protein x 2")
	say(e, "u1", "Sprouts Salad x 1")
	r = say(e, "u1", "checkout")
	assert.Contains(t, r.Text, "Select service type")
}

func TestCheckoutWithEmptyCart(t *testing.T) {
	e, _ := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	r := say(e, "u1", "place order")
	assert.Contains(t, r.Text, "Cart is empty.")
}

func TestBalanceKeywordReadsAuthoritativeBalance(t *testing.T) {
	e, repo := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	require.NoError(t, repo.SetBalance(context.Background(), "97011", 777))
	r := say(e, "u1", "balance")
	assert.Contains(t, r.Text, "Available: ₹777")
}

func TestFormatErrorKeepsState(t *testing.T) {
	e, _ := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	r := say(e, "u1", "gibberish with no quantity")
	assert.Contains(t, r.Text, "Format not recognized")

	r = say(e, "u1", "1 x 1")
	assert.Contains(t, r.Text, "Added: Sprouts Salad x 1")
}

func TestTodayDeliveryInsideWindow(t *testing.T) {
	earlyMorning := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	e, repo := newTestEngine(earlyMorning)
	login(t, e, "u1", "97011", "1234")

	say(e, "u1", "2 x 1")
	r := say(e, "u1", "place order")
	assert.Contains(t, r.Text, "1. Today's delivery")

	r = say(e, "u1", "1")
	assert.Contains(t, r.Text, "Date: 14-03-2026 (today)")

	orders, _ := repo.ListOrders(context.Background())
	require.Len(t, orders, 1)
	assert.Equal(t, orderdomain.TypeImmediate, orders[0].Type)
	assert.Nil(t, orders[0].DeliveryDate)
}

func TestTodayDeliveryRejectedOutsideWindow(t *testing.T) {
	e, _ := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	say(e, "u1", "2 x 1")
	say(e, "u1", "place order")
	r := say(e, "u1", "1")
	assert.Contains(t, r.Text, "Today's delivery closed")

	// State unchanged: a valid choice still commits.
	r = say(e, "u1", "5")
	assert.Contains(t, r.Text, "Invalid choice")
	r = say(e, "u1", "3")
	assert.Contains(t, r.Text, "Thank you for your order!")
}

func TestPreorderConfirmFlow(t *testing.T) {
	e, repo := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	say(e, "u1", "chia x 1")
	say(e, "u1", "place order")
	r := say(e, "u1", "2")
	assert.Contains(t, r.Text, "Ordering for date: 15-03-2026 (tomorrow)")

	r = say(e, "u1", "maybe")
	assert.Contains(t, r.Text, "Please reply 'yes' to confirm")

	r = say(e, "u1", "yes")
	assert.Contains(t, r.Text, "Date: 15-03-2026")

	orders, _ := repo.ListOrders(context.Background())
	require.Len(t, orders, 1)
	assert.Equal(t, orderdomain.TypePreorder, orders[0].Type)
	require.NotNil(t, orders[0].DeliveryDate)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *orders[0].DeliveryDate)
}

func TestPreorderDeclineReturnsToCart(t *testing.T) {
	e, repo := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	say(e, "u1", "chia x 1")
	say(e, "u1", "place order")
	say(e, "u1", "2")
	r := say(e, "u1", "no")
	assert.Contains(t, r.Text, "Back to your cart")

	orders, _ := repo.ListOrders(context.Background())
	assert.Empty(t, orders)

	// The cart survived the aborted checkout.
	r = say(e, "u1", "checkout")
	assert.Contains(t, r.Text, "Select service type")
}

func TestDeliveryChoiceCancelReturnsToCart(t *testing.T) {
	e, _ := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	say(e, "u1", "1 x 1")
	say(e, "u1", "place order")
	r := say(e, "u1", "cancel")
	assert.Contains(t, r.Text, "Returning to cart")

	r = say(e, "u1", "1 x 1")
	assert.Contains(t, r.Text, "Added: Sprouts Salad x 1")
}

func TestGuestTakeawayFlow(t *testing.T) {
	e, repo := newTestEngine(midday)

	say(e, "g1", "hi")
	say(e, "g1", "2")
	r := say(e, "g1", "1 x 2")
	assert.Contains(t, r.Text, "Total amount: ₹100")

	r = say(e, "g1", "place order")
	assert.Contains(t, r.Text, "select takeaway time")

	r = say(e, "g1", "7")
	assert.Contains(t, r.Text, "Please reply 1, 2, or 3.")

	r = say(e, "g1", "2")
	assert.Contains(t, r.Text, "Order confirmed!")
	assert.Contains(t, r.Text, "Please pay ₹100 at the shop counter")
	assert.Contains(t, r.Text, "Pickup time: 30 minutes")

	orders, _ := repo.ListOrders(context.Background())
	require.Len(t, orders, 1)
	assert.True(t, orderdomain.GuestID(orders[0].OwnerID))
	assert.Equal(t, orderdomain.TypeTakeaway, orders[0].Type)
	assert.Equal(t, int64(100), orders[0].Amount)
}

func TestCancelCommandAfterCompletedDialogue(t *testing.T) {
	e, repo := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")
	say(e, "u1", "Protein Bowl x 2")
	say(e, "u1", "place order")
	say(e, "u1", "3")

	// The session reset on commit, but the identity is still bound to the
	// member, so the out-of-band command finds the last active order.
	r := say(e, "u1", "/cancel_order")
	assert.Contains(t, r.Text, "Order cancelled successfully")
	assert.Contains(t, r.Text, "Refunded: ₹110")
	assert.Contains(t, r.Text, "Wallet balance: ₹1500")

	balance, _ := repo.GetBalance(context.Background(), "97011")
	assert.Equal(t, int64(1500), balance)
	orders, _ := repo.ListOrders(context.Background())
	assert.Equal(t, orderdomain.StatusCancelled, orders[0].Status)
}

func TestCancelCommandByExplicitID(t *testing.T) {
	e, repo := newTestEngine(midday)

	// Guest order placed through the dialogue.
	say(e, "g1", "hi")
	say(e, "g1", "2")
	say(e, "g1", "1 x 1")
	say(e, "g1", "place order")
	say(e, "g1", "1")

	orders, _ := repo.ListOrders(context.Background())
	require.Len(t, orders, 1)

	r := say(e, "someone-else", fmt.Sprintf("/cancel_order %d", orders[0].ID))
	assert.Contains(t, r.Text, "Order cancelled successfully")
	assert.Contains(t, r.Text, "Nothing to pay at pickup.")
}

func TestCancelCommandPhraseInsideSentence(t *testing.T) {
	e, repo := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")
	say(e, "u1", "Protein Bowl x 2")
	say(e, "u1", "place order")
	say(e, "u1", "3")

	r := say(e, "u1", "please cancel order for me")
	assert.Contains(t, r.Text, "Order cancelled successfully")

	balance, _ := repo.GetBalance(context.Background(), "97011")
	assert.Equal(t, int64(1500), balance)
}

func TestCancelCommandPhraseWithEmbeddedID(t *testing.T) {
	e, repo := newTestEngine(midday)

	say(e, "g1", "hi")
	say(e, "g1", "2")
	say(e, "g1", "1 x 1")
	say(e, "g1", "place order")
	say(e, "g1", "1")

	orders, _ := repo.ListOrders(context.Background())
	require.Len(t, orders, 1)

	r := say(e, "someone-else", fmt.Sprintf("could you Cancel Order %d please", orders[0].ID))
	assert.Contains(t, r.Text, "Order cancelled successfully")

	o, _ := repo.FindOrderByID(context.Background(), orders[0].ID)
	assert.Equal(t, orderdomain.StatusCancelled, o.Status)
}

func TestCancelCommandWithoutSessionOrID(t *testing.T) {
	e, _ := newTestEngine(midday)
	r := say(e, "stranger", "cancel order")
	assert.Contains(t, r.Text, "Session expired or not found")
}

func TestCancelCommandNoActiveOrder(t *testing.T) {
	e, _ := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	r := say(e, "u1", "/cancel_order")
	assert.Contains(t, r.Text, "Cancel failed: No active order found to cancel.")
}

func TestSlashCancelResetsSession(t *testing.T) {
	e, _ := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")
	say(e, "u1", "1 x 1")

	r := say(e, "u1", "/cancel")
	assert.Contains(t, r.Text, "Operation cancelled")

	// Fresh session: back at plan selection.
	r = say(e, "u1", "2")
	assert.Contains(t, r.Text, "Today's menu (non-member)")
}

func TestSessionsAreIndependent(t *testing.T) {
	e, _ := newTestEngine(midday)
	login(t, e, "u1", "97011", "1234")

	// A second identity starting fresh does not disturb the first.
	r := say(e, "u2", "hi")
	assert.Contains(t, r.Text, "select your plan")

	r = say(e, "u1", "1 x 1")
	assert.Contains(t, r.Text, "Added: Sprouts Salad x 1")
}
