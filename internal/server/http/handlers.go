package httpserver

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"coinpulse/internal/market/fetcher"
	"coinpulse/internal/market/resource"
)

const (
	headerDataSource = "X-Data-Source"
	headerDataStale  = "X-Data-Stale"

	maxPerPage = 250
	maxDays    = 3650
)

var (
	coinIDRegex   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,99}$`)
	currencyRegex = regexp.MustCompile(`^[a-z]{3,5}$`)
)

type handlers struct {
	hub *resource.Hub
}

func (h *handlers) markets(c *fiber.Ctx) error {
	vs := c.Query("vs_currency", resource.DefaultVsCurrency)
	if !currencyRegex.MatchString(vs) {
		return fiber.NewError(http.StatusBadRequest, "invalid vs_currency")
	}
	perPage := c.QueryInt("per_page", resource.DefaultPerPage)
	if perPage < 1 || perPage > maxPerPage {
		return fiber.NewError(http.StatusBadRequest, "per_page must be between 1 and 250")
	}
	return h.read(c, h.hub.MarketsFor(vs, perPage))
}

func (h *handlers) core(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		r, ok := h.hub.Lookup(name)
		if !ok {
			return fiber.ErrNotFound
		}
		return h.read(c, r)
	}
}

func (h *handlers) coinDetails(c *fiber.Ctx) error {
	id, err := coinID(c)
	if err != nil {
		return err
	}
	return h.read(c, h.hub.CoinDetails(id))
}

func (h *handlers) coinHistory(c *fiber.Ctx) error {
	id, err := coinID(c)
	if err != nil {
		return err
	}
	days, err := strconv.Atoi(c.Query("days", "7"))
	if err != nil || days < 1 || days > maxDays {
		return fiber.NewError(http.StatusBadRequest, "days must be a positive integer")
	}
	return h.read(c, h.hub.CoinHistory(id, days))
}

// dashboard reads the four core resources concurrently.
func (h *handlers) dashboard(c *fiber.Ctx) error {
	logReq := reqLogger(c)
	ctx := c.UserContext()

	names := []string{resource.NameMarkets, resource.NameGlobal, resource.NameTrending, resource.NameFearGreed}
	out := make(map[string]resource.Snapshot, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		r, ok := h.hub.Lookup(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			snap, _ := r.Revalidate(gctx, resource.TriggerMount)
			mu.Lock()
			out[name] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stale := false
	for name, snap := range out {
		if snap.Stale() {
			stale = true
		}
		if snap.IsError {
			logReq("[coinpulse][http] dashboard %s: %s", name, snap.Error)
		}
	}
	if stale {
		c.Set(headerDataStale, "true")
	}
	return c.JSON(out)
}

func (h *handlers) refresh(c *fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params("resource"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid resource name")
	}
	r, ok := h.hub.Lookup(name)
	if !ok {
		return fiber.NewError(http.StatusNotFound, "unknown resource "+name)
	}
	reqLogger(c)("[coinpulse][http] manual refresh %s", name)
	return h.respond(c, r.Refresh(c.UserContext()))
}

func (h *handlers) revalidate(c *fiber.Ctx) error {
	t, err := resource.ParseTrigger(c.Params("trigger"))
	if err != nil || t == resource.TriggerMount {
		return fiber.NewError(http.StatusBadRequest, "trigger must be focus or reconnect")
	}
	n := h.hub.Revalidate(c.UserContext(), t)
	reqLogger(c)("[coinpulse][http] revalidate %s fetched=%d", t, n)
	return c.JSON(fiber.Map{"trigger": t, "fetched": n})
}

// read serves the resource state, revalidating as a mount would so the
// dedup window governs how often reads reach the fetcher.
func (h *handlers) read(c *fiber.Ctx, r resource.Handle) error {
	snap, fetched := r.Revalidate(c.UserContext(), resource.TriggerMount)
	if fetched {
		reqLogger(c)("[coinpulse][http] %s revalidated source=%s", r.Name(), snap.Source)
	}
	return h.respond(c, snap)
}

func (h *handlers) respond(c *fiber.Ctx, snap resource.Snapshot) error {
	c.Set(headerDataSource, string(snap.Source))
	if snap.Stale() {
		c.Set(headerDataStale, "true")
	}
	return c.Status(statusFor(snap)).JSON(snap)
}

// statusFor is 200 whenever there is something to show.
func statusFor(snap resource.Snapshot) int {
	if snap.Data != nil || !snap.IsError {
		return http.StatusOK
	}
	if snap.ErrorKind == string(fetcher.KindRateLimited) {
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}

func coinID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if !coinIDRegex.MatchString(id) {
		return "", fiber.NewError(http.StatusBadRequest, "invalid coin id")
	}
	return id, nil
}
