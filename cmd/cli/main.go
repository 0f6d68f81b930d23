package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/internal/notice"
	"github.com/nazeru/cart-lab-go/pkg/money"
)

type model struct {
	api      *api
	email    string
	products []domain.Product
	selected int
	cart     cartView
	status   string
	notice   *notice.Entry
	placed   *domain.Order
	busy     bool
}

func initialModel(a *api, email string) model {
	return model{api: a, email: email, status: "Loading..."}
}

type loadedMsg struct {
	products []domain.Product
	cart     cartView
	err      error
}

type cartMsg struct {
	cart   cartView
	status string
	err    error
}

type checkoutMsg struct {
	order  domain.OrderResult
	placed *domain.Order
	cart   cartView
	err    error
}

type noticeMsg struct {
	entry *notice.Entry
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.pollNotice())
}

func (m model) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		products, err := m.api.Products(ctx)
		if err != nil {
			return loadedMsg{err: err}
		}
		cart, err := m.api.Cart(ctx)
		return loadedMsg{products: products, cart: cart, err: err}
	}
}

func (m model) pollNotice() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e, ok, err := m.api.Notice(ctx)
		if err != nil || !ok {
			return noticeMsg{}
		}
		return noticeMsg{entry: &e}
	})
}

func (m model) mutate(status string, fn func(ctx context.Context) (cartView, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cart, err := fn(ctx)
		return cartMsg{cart: cart, status: status, err: err}
	}
}

func (m model) checkout() tea.Cmd {
	email := m.email
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := m.api.Checkout(ctx, email)
		if err != nil {
			return checkoutMsg{err: err}
		}
		msg := checkoutMsg{order: res}
		if o, err := m.api.Order(ctx, res.OrderID); err == nil {
			msg.placed = &o
		}
		msg.cart, msg.err = m.api.Cart(ctx)
		return msg
	}
}

func (m model) quantityOf(id domain.ProductID) int {
	for _, l := range m.cart.Lines {
		if l.Product.ID == id {
			return l.Quantity
		}
	}
	return 0
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down":
			if m.selected < len(m.products)-1 {
				m.selected++
			}
			return m, nil
		case "r":
			return m, m.load()
		}
		if m.busy || len(m.products) == 0 {
			return m, nil
		}
		p := m.products[m.selected]
		var cmd tea.Cmd
		switch msg.String() {
		case "a", "+":
			cmd = m.mutate("Added "+p.Name, func(ctx context.Context) (cartView, error) { return m.api.Add(ctx, p.ID, 1) })
		case "-":
			qty := m.quantityOf(p.ID) - 1
			cmd = m.mutate("Updated "+p.Name, func(ctx context.Context) (cartView, error) { return m.api.Update(ctx, p.ID, qty) })
		case "d":
			cmd = m.mutate("Removed "+p.Name, func(ctx context.Context) (cartView, error) { return m.api.Remove(ctx, p.ID) })
		case "c":
			cmd = m.mutate("Cart cleared", m.api.Clear)
		case "enter":
			cmd = m.checkout()
		}
		if cmd != nil {
			m.busy = true
			m.status = "Working..."
		}
		return m, cmd
	case loadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Load failed: %v", msg.err)
			return m, nil
		}
		m.products, m.cart, m.status = msg.products, msg.cart, "Ready"
		if m.selected >= len(m.products) {
			m.selected = 0
		}
	case cartMsg:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("Failed: %v", msg.err)
			return m, nil
		}
		m.cart, m.status = msg.cart, msg.status
	case checkoutMsg:
		m.busy = false
		switch {
		case msg.order.OrderID == "":
			m.status = fmt.Sprintf("Checkout failed: %v", msg.err)
		case msg.err != nil:
			m.status = fmt.Sprintf("Order %s %s (reload failed: %v)", msg.order.OrderID, msg.order.Status, msg.err)
		default:
			m.cart = msg.cart
			m.status = fmt.Sprintf("Order %s %s", msg.order.OrderID, msg.order.Status)
		}
		if msg.placed != nil {
			m.placed = msg.placed
		}
	case noticeMsg:
		m.notice = msg.entry
		return m, m.pollNotice()
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "cart-lab CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Products:")
	for i, p := range m.products {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %-24s %10s  stock %d  in cart %d\n", marker, p.Name, money.Format(p.Price, ""), p.Stock, m.quantityOf(p.ID))
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Cart: %d items, total %s\n", m.cart.ItemCount, m.cart.TotalDisplay)
	for _, l := range m.cart.Lines {
		fmt.Fprintf(b, "   %d x %s = %s\n", l.Quantity, l.Product.Name, money.Format(l.Subtotal, ""))
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.placed != nil {
		fmt.Fprintf(b, "Last order: %s\n", orderLine(*m.placed))
	}
	if m.notice != nil {
		fmt.Fprintf(b, "[%s] %s\n", m.notice.Severity, m.notice.Message)
	}
	fmt.Fprintf(b, "\nControls: up/down select, a/+ add, - decrease, d remove, c clear, enter checkout as %s, r reload, q quit\n", m.email)
	return b.String()
}

// runScript executes comma separated steps such as
// "add:1:2,update:1:3,remove:1,clear,checkout,show,orders,order:12".
func runScript(ctx context.Context, a *api, email, script string) error {
	for _, step := range strings.Split(script, ",") {
		parts := strings.Split(strings.TrimSpace(step), ":")
		var (
			cart cartView
			err  error
		)
		switch parts[0] {
		case "add", "update":
			if len(parts) != 3 {
				return fmt.Errorf("%s needs product and quantity: %q", parts[0], step)
			}
			id, qty, perr := parseIDQty(parts[1], parts[2])
			if perr != nil {
				return perr
			}
			if parts[0] == "add" {
				cart, err = a.Add(ctx, id, qty)
			} else {
				cart, err = a.Update(ctx, id, qty)
			}
		case "remove":
			if len(parts) != 2 {
				return fmt.Errorf("remove needs a product: %q", step)
			}
			id, perr := strconv.ParseInt(parts[1], 10, 64)
			if perr != nil {
				return perr
			}
			cart, err = a.Remove(ctx, domain.ProductID(id))
		case "clear":
			cart, err = a.Clear(ctx)
		case "show", "":
			cart, err = a.Cart(ctx)
		case "checkout":
			res, cerr := a.Checkout(ctx, email)
			if cerr != nil {
				fmt.Printf("checkout: %v\n", cerr)
				continue
			}
			fmt.Printf("checkout: order %s %s\n", res.OrderID, res.Status)
			continue
		case "order":
			if len(parts) != 2 {
				return fmt.Errorf("order needs an id: %q", step)
			}
			o, oerr := a.Order(ctx, domain.OrderID(parts[1]))
			if oerr != nil {
				fmt.Printf("order: %v\n", oerr)
				continue
			}
			fmt.Printf("order: %s\n", orderLine(o))
			continue
		case "orders":
			list, oerr := a.Orders(ctx, email)
			if oerr != nil {
				fmt.Printf("orders: %v\n", oerr)
				continue
			}
			fmt.Printf("orders: %d for %s\n", len(list), email)
			for _, o := range list {
				fmt.Printf("  %s\n", orderLine(o))
			}
			continue
		case "bench":
			fmt.Println(runBenchmark(ctx, a, 5*time.Second, 5))
			continue
		default:
			return fmt.Errorf("unknown step %q", parts[0])
		}
		if err != nil {
			fmt.Printf("%s: %v\n", parts[0], err)
			continue
		}
		fmt.Printf("%s: %d items, total %s\n", parts[0], cart.ItemCount, cart.TotalDisplay)
	}
	return nil
}

func orderLine(o domain.Order) string {
	line := fmt.Sprintf("#%s %s %s", o.ID, o.Status, money.Format(o.Total, ""))
	if !o.CreatedAt.IsZero() {
		line += " " + o.CreatedAt.Format("2006-01-02 15:04")
	}
	return line
}

func parseIDQty(rawID, rawQty string) (domain.ProductID, int, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("product id: %w", err)
	}
	qty, err := strconv.Atoi(rawQty)
	if err != nil {
		return 0, 0, fmt.Errorf("quantity: %w", err)
	}
	return domain.ProductID(id), qty, nil
}

// runBenchmark adds and removes one unit of the first product from vus
// workers and reports mutation latency.
func runBenchmark(ctx context.Context, a *api, duration time.Duration, vus int) string {
	products, err := a.Products(ctx)
	if err != nil || len(products) == 0 {
		return fmt.Sprintf("bench: no products (%v)", err)
	}
	id := products[0].ID

	var mu sync.Mutex
	var total time.Duration
	var count, errs int
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				start := time.Now()
				_, err := a.Add(ctx, id, 1)
				if err == nil {
					_, err = a.Remove(ctx, id)
				}
				mu.Lock()
				if err != nil {
					errs++
				} else {
					count++
					total += time.Since(start)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	return fmt.Sprintf("count=%d errors=%d avg=%s throughput=%.2f ops/s", count, errs, avg, float64(count)/duration.Seconds())
}

func main() {
	runCmd := flag.String("run", "", "run steps: add:ID:QTY,update:ID:QTY,remove:ID,clear,checkout,show,bench")
	email := flag.String("email", getenv("CART_EMAIL", "demo@example.com"), "email used at checkout")
	flag.Parse()

	a := newAPI(getenv("CART_BASE_URL", "http://localhost:8080"))

	if *runCmd != "" {
		if err := runScript(context.Background(), a, *email, *runCmd); err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(initialModel(a, *email))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
