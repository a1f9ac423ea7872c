package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olincollege/omg-exchange/internal/auth"
	"github.com/olincollege/omg-exchange/internal/db"
	"github.com/olincollege/omg-exchange/internal/exchange"
)

func startServer(t *testing.T) net.Addr {
	t.Helper()
	store := db.NewMemStore()
	engine := exchange.NewEngine(store)
	srv := NewServer(engine, auth.NewService(store, "test-secret"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		srv.ListenAndServe(ctx, "127.0.0.1:0")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("session server did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv.Addr()
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Scanner
}

func dial(t *testing.T, addr net.Addr) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewScanner(conn)}
}

// expect reads lines until one contains substr.
func (c *client) expect(substr string) string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for c.r.Scan() {
		line := c.r.Text()
		if strings.Contains(line, substr) {
			return line
		}
	}
	c.t.Fatalf("connection ended before %q was seen (scan err: %v)", substr, c.r.Err())
	return ""
}

func (c *client) sendLine(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	require.NoError(c.t, err)
}

func TestSessionRegisterLoginAndTrade(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)

	c.expect("Welcome to OMG")
	c.sendLine("r")
	c.expect("enter a username")
	c.sendLine("alice")
	c.expect("enter your name")
	c.sendLine("Alice")
	c.expect("enter a password")
	c.sendLine("password123")
	c.expect("Registration successful")

	// Registration drops back to the login prompt.
	c.expect("Welcome to OMG")
	c.sendLine("u")
	c.expect("Username:")
	c.sendLine("alice")
	c.expect("Password:")
	c.sendLine("password123")
	c.expect("Welcome back, Alice")

	c.sendLine("myInventory")
	c.expect("OMG: 100")
	c.expect("DOGE: 100")

	c.sendLine("buy doge 2 5")
	c.expect("Successfully created buy order")

	// 5 * 2.0 = 10 OMG escrowed for the resting buy.
	c.sendLine("myInventory")
	c.expect("OMG: 90")

	c.sendLine("myOrders")
	c.expect("Open Orders:")
	c.expect("Item: DOGE")
	c.expect("Archived Orders:")

	c.sendLine("view doge")
	c.expect("Buy Orders")
	c.expect("Price: 2.00, Quantity: 5")

	c.sendLine("shout")
	c.expect("Invalid syntax")

	c.sendLine("help")
	c.expect("cancelOrder <orderID>")
}

func TestSessionRejectsBadLogin(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)

	c.expect("Welcome to OMG")
	c.sendLine("u")
	c.expect("Username:")
	c.sendLine("ghost")
	c.expect("Password:")
	c.sendLine("password123")
	c.expect("Failed to authenticate")

	// Back at the login prompt.
	c.expect("Welcome to OMG")
}

func TestSessionInvalidMenuOption(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)

	c.expect("Welcome to OMG")
	c.sendLine("x")
	c.expect("Invalid option")
}
