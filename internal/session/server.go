// Package session implements the line-oriented TCP text protocol: the
// register/login prompts, the command loop and the rendering of engine
// results back to the client. Each accepted connection is served by its own
// goroutine; serialization of conflicting trades is the engine's job.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/olincollege/omg-exchange/internal/auth"
	"github.com/olincollege/omg-exchange/internal/cache"
	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"
)

const banner = " $$$$$$\\  $$\\      $$\\  $$$$$$\\ \r\n" +
	"$$  __$$\\ $$$\\    $$$ |$$  __$$\\\r\n" +
	"$$ /  $$ |$$$$\\  $$$$ |$$ /  \\__|\r\n" +
	"$$ |  $$ |$$\\$$\\$$ $$ |$$ |$$$$\\\r\n" +
	"$$ |  $$ |$$ \\$$$  $$ |$$ |\\_$$ |\r\n" +
	"$$ |  $$ |$$ |\\$  /$$ |$$ |  $$ |\r\n" +
	" $$$$$$  |$$ | \\_/ $$ |\\$$$$$$  |\r\n" +
	" \\______/ \\__|     \\__| \\______/ \r\n"

const helpText = "Available commands:\r\n" +
	"myInventory\r\nLists the inventory for the current user.\r\n\r\n" +
	"buy <item> <price> <quantity>\r\nPosts a buy order.\r\n\r\n" +
	"sell <item> <price> <quantity>\r\nPosts a sell order.\r\n\r\n" +
	"myOrders\r\nLists all open and archived orders for the current user.\r\n\r\n" +
	"cancelOrder <orderID>\r\nCancels a buy/sell order.\r\n\r\n" +
	"view <item>\r\nViews the top buy/sell orders for a specific item.\r\n\r\n"

// Server accepts TCP connections and runs one session per connection.
type Server struct {
	engine    *exchange.Engine
	auth      *auth.Service
	snapshots *cache.SnapshotCache

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates a session server over the engine and auth service.
// snapshots may be nil; view output is then rendered on every request.
func NewServer(engine *exchange.Engine, authSvc *auth.Service, snapshots *cache.SnapshotCache) *Server {
	return &Server{engine: engine, auth: authSvc, snapshots: snapshots}
}

// ListenAndServe listens on addr and serves connections until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go s.serve(ctx, conn)
	}
}

// Addr returns the listener address, for tests binding to port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

type session struct {
	id     string
	conn   net.Conn
	r      *bufio.Scanner
	w      *bufio.Writer
	engine    *exchange.Engine
	auth      *auth.Service
	snapshots *cache.SnapshotCache
	userID    int
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		r:      bufio.NewScanner(conn),
		w:      bufio.NewWriter(conn),
		engine:    s.engine,
		auth:      s.auth,
		snapshots: s.snapshots,
	}
	log.Printf("session %s: connected from %s", sess.id, conn.RemoteAddr())

	if err := sess.run(ctx); err != nil {
		log.Printf("session %s: %v", sess.id, err)
	}
	log.Printf("session %s: closed", sess.id)
}

func (c *session) run(ctx context.Context) error {
	if err := c.login(ctx); err != nil {
		return err
	}
	c.send(banner)

	for {
		line, ok := c.readLine()
		if !ok {
			return nil
		}
		cmd, err := Parse(line)
		if err != nil {
			c.send("Invalid syntax! Try help. \r\n")
			continue
		}
		c.dispatch(ctx, cmd)
	}
}

// login runs the pre-auth prompt loop: register or authenticate.
func (c *session) login(ctx context.Context) error {
	for {
		c.send("Welcome to OMG. \"r\" to register, and \"u\" for existing users \r\n")
		line, ok := c.readLine()
		if !ok {
			return fmt.Errorf("client left during login")
		}
		switch {
		case strings.HasPrefix(line, "r"):
			if c.register(ctx) {
				continue // registered users still log in
			}
		case strings.HasPrefix(line, "u"):
			if c.authenticate(ctx) {
				return nil
			}
		default:
			c.send("Invalid option. Please enter 'r' or 'u'.\r\n")
		}
	}
}

func (c *session) register(ctx context.Context) bool {
	username, ok := c.prompt("Please enter a username: \r\n")
	if !ok {
		return false
	}
	name, ok := c.prompt("Please enter your name (for display purposes): \r\n")
	if !ok {
		return false
	}
	password, ok := c.prompt("Please enter a password: \r\n")
	if !ok {
		return false
	}

	if _, err := c.auth.Register(ctx, username, password, name); err != nil {
		log.Printf("session %s: registration failed: %v", c.id, err)
		c.send("Registration failed!\r\n")
		return false
	}
	c.send("Registration successful! You can now log in.\r\n")
	return true
}

func (c *session) authenticate(ctx context.Context) bool {
	username, ok := c.prompt("Username: \r\n")
	if !ok {
		return false
	}
	password, ok := c.prompt("Password: \r\n")
	if !ok {
		return false
	}
	user, err := c.auth.Login(ctx, username, password)
	if err != nil {
		c.send("Failed to authenticate!\r\n\n")
		return false
	}
	c.userID = user.ID
	c.send(fmt.Sprintf("Welcome back, %s\r\n", user.Name))
	return true
}

func (c *session) dispatch(ctx context.Context, cmd *Command) {
	switch cmd.Kind {
	case KindInventory:
		c.handleInventory(ctx)
	case KindBuy, KindSell:
		c.handleOrder(ctx, cmd)
	case KindOrders:
		c.handleOrders(ctx)
	case KindCancel:
		c.handleCancel(ctx, cmd.OrderID)
	case KindView:
		c.handleView(ctx, cmd.Item)
	case KindHelp:
		c.send(helpText)
	}
}

func (c *session) handleInventory(ctx context.Context) {
	balances, err := c.engine.Inventory(ctx, c.userID)
	if err != nil {
		c.send("Error retrieving inventory!\r\n")
		return
	}
	c.send("Your current inventory:\r\n")
	for _, coin := range models.Coins {
		c.send(fmt.Sprintf("%s: %d\r\n", coin, balances[coin]))
	}
}

func (c *session) handleOrder(ctx context.Context, cmd *Command) {
	var result *exchange.OrderResult
	var err error
	verb := "buy"
	if cmd.Kind == KindSell {
		verb = "sell"
		result, err = c.engine.Sell(ctx, c.userID, cmd.Item, cmd.Quantity, cmd.Price)
	} else {
		result, err = c.engine.Buy(ctx, c.userID, cmd.Item, cmd.Quantity, cmd.Price)
	}
	if err != nil {
		if errors.Is(err, exchange.ErrInsufficientFunds) {
			c.send(fmt.Sprintf("Insufficient funds for %s order!\r\n", verb))
		} else {
			c.send(fmt.Sprintf("Can't create %s order!\r\n", verb))
		}
		return
	}

	switch result.Outcome {
	case exchange.RestedUnfilled:
		c.send(fmt.Sprintf("Successfully created %s order! Order ID: %d\r\n", verb, result.OrderID))
	case exchange.FullyFilled:
		c.send(fmt.Sprintf("Order filled: %d at %.2f\r\n", result.FilledQuantity, result.FillPrice))
	case exchange.PartiallyFilledThenRested:
		c.send(fmt.Sprintf("Order partially filled: %d at %.2f, remainder resting as order %d\r\n",
			result.FilledQuantity, result.FillPrice, result.OrderID))
	}
}

func (c *session) handleOrders(ctx context.Context) {
	open, err := c.engine.OpenOrders(ctx, c.userID)
	if err != nil {
		c.send("Error retrieving orders!\r\n")
		return
	}
	c.send("Open Orders:\r\n")
	if len(open) == 0 {
		c.send("No open orders.\r\n")
	}
	for i, o := range open {
		c.sendOrderLine(i+1, o)
	}
	c.send("------------------------------------\r\n")

	archived, err := c.engine.ArchivedOrders(ctx, c.userID)
	if err != nil {
		c.send("Error retrieving orders!\r\n")
		return
	}
	c.send("Archived Orders:\r\n")
	if len(archived) == 0 {
		c.send("No archived orders.\r\n")
	}
	for i, o := range archived {
		c.sendOrderLine(i+1, o)
	}
}

func (c *session) sendOrderLine(n int, o models.Order) {
	c.send(fmt.Sprintf("Order %d: Type: %s, Item: %s, Amount: %d, Price: %.2f, ID: %d\r\n",
		n, strings.ToUpper(o.Side.String()), o.Item, o.Quantity, o.UnitPrice, o.ID))
}

func (c *session) handleCancel(ctx context.Context, orderID int) {
	err := c.engine.CancelOrder(ctx, orderID, c.userID)
	switch {
	case err == nil:
		c.send("Successfully cancelled order!\r\n")
	case errors.Is(err, exchange.ErrOrderNotFound):
		c.send("Order not found!\r\n")
	case errors.Is(err, exchange.ErrUnauthorized):
		c.send("That order does not belong to you!\r\n")
	default:
		c.send("Failed to cancel order!\r\n")
	}
}

func (c *session) handleView(ctx context.Context, item models.Coin) {
	key := "view:" + item.String()
	if cached, ok := c.snapshots.Get(ctx, key); ok {
		c.send(cached)
		return
	}

	buys, sells, err := c.engine.BookSnapshot(ctx, item)
	if err != nil {
		c.send("Error retrieving orders!\r\n")
		return
	}

	var b strings.Builder
	b.WriteString("----------------------------------------------------\r\n")
	fmt.Fprintf(&b, "%-30s | %s\r\n", "Buy Orders", "Sell Orders")

	rows := len(buys)
	if len(sells) > rows {
		rows = len(sells)
	}
	for i := 0; i < rows; i++ {
		left := ""
		if i < len(buys) {
			left = fmt.Sprintf("Price: %.2f, Quantity: %d", buys[i].UnitPrice, buys[i].Quantity)
		}
		right := ""
		if i < len(sells) {
			right = fmt.Sprintf("Price: %.2f, Quantity: %d", sells[i].UnitPrice, sells[i].Quantity)
		}
		fmt.Fprintf(&b, "%-30s | %s\r\n", left, right)
	}
	rendered := b.String()
	c.snapshots.Set(ctx, key, rendered)
	c.send(rendered)
}

func (c *session) prompt(msg string) (string, bool) {
	c.send(msg)
	return c.readLine()
}

func (c *session) readLine() (string, bool) {
	if !c.r.Scan() {
		return "", false
	}
	return strings.TrimRight(c.r.Text(), "\r\n"), true
}

func (c *session) send(msg string) {
	if _, err := c.w.WriteString(msg); err != nil {
		return
	}
	c.w.Flush()
}
