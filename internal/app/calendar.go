package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calendar-service/internal/config"
	"calendar-service/internal/conflict"
	"calendar-service/internal/logging"
	"calendar-service/internal/metrics"
)

const breakerName = "google_freebusy"

// GoogleCalendar connects users' Google calendars and reports their busy
// time as external conflicts.
type GoogleCalendar struct {
	Config  *oauth2.Config
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[]conflict.Interval]

	mu     sync.RWMutex
	tokens map[int64]*oauth2.Token
}

// NewGoogleCalendar returns nil when no client credentials are configured.
func NewGoogleCalendar(cfg config.GoogleConfig) *GoogleCalendar {
	if !cfg.Enabled() {
		return nil
	}
	g := &GoogleCalendar{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				calendar.CalendarReadonlyScope,
			},
			Endpoint: google.Endpoint,
		},
		timeout: cfg.Timeout,
		tokens:  make(map[int64]*oauth2.Token),
	}
	failures := cfg.BreakerFailures
	g.breaker = gobreaker.NewCircuitBreaker[[]conflict.Interval](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	metrics.BreakerState.WithLabelValues(breakerName).Set(float64(gobreaker.StateClosed))
	return g
}

// SetToken stores the OAuth token of a user.
func (g *GoogleCalendar) SetToken(userID int64, tok *oauth2.Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens[userID] = tok
}

func (g *GoogleCalendar) token(userID int64) (*oauth2.Token, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tok, ok := g.tokens[userID]
	return tok, ok
}

var _ conflict.BusySource = (*GoogleCalendar)(nil)

// Busy returns the busy periods of the user's primary Google calendar.
// Users who never connected their calendar have none.
func (g *GoogleCalendar) Busy(ctx context.Context, userID int64, from, to time.Time) ([]conflict.Interval, error) {
	tok, ok := g.token(userID)
	if !ok {
		return nil, nil
	}
	return g.breaker.Execute(func() ([]conflict.Interval, error) {
		return g.freeBusy(ctx, tok, from, to)
	})
}

func (g *GoogleCalendar) freeBusy(ctx context.Context, tok *oauth2.Token, from, to time.Time) ([]conflict.Interval, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	client := g.Config.Client(ctx, tok)
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	resp, err := srv.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: "primary"}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to query free/busy: %w", err)
	}

	primary, ok := resp.Calendars["primary"]
	if !ok {
		return nil, nil
	}
	var out []conflict.Interval
	for _, p := range primary.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			continue
		}
		out = append(out, conflict.Interval{Start: start, End: end})
	}
	return out, nil
}

// GET /api/calendar/google/auth
func (a *App) GoogleAuthHandler(c *gin.Context) {
	if a.Google == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Google Calendar not configured"})
		return
	}
	actor, _ := identity(c)

	state := fmt.Sprintf("user_%d_%d", actor, time.Now().Unix())
	url := a.Google.Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	c.JSON(http.StatusOK, gin.H{
		"auth_url": url,
		"state":    state,
	})
}

// GET /oauth2callback
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if a.Google == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Google Calendar not configured"})
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization code required"})
		return
	}
	userID, ok := userFromState(state)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	token, err := a.Google.Config.Exchange(c.Request.Context(), code)
	if err != nil {
		logging.Ctx(c.Request.Context()).Warn().Err(err).Int64("user_id", userID).Msg("google token exchange failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to exchange code for token"})
		return
	}
	a.Google.SetToken(userID, token)

	c.JSON(http.StatusOK, gin.H{
		"message": "Authorization successful",
		"user_id": userID,
	})
}

// userFromState parses the user id out of a user_<id>_<unix> state.
func userFromState(state string) (int64, bool) {
	parts := strings.Split(state, "_")
	if len(parts) != 3 || parts[0] != "user" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
