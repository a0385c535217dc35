package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meetbook/internal/availability"
	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "meetbook:client:"

// Client calls the booking HTTP API. Catalog and date lookups can be cached
// in Redis; slots and bookings always go to the server.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// APIError is a non-2xx response. It unwraps to the matching domain error
// so callers can use errors.Is(err, domain.ErrSlotUnavailable).
type APIError struct {
	Status  int
	Code    string            `json:"code"`
	Message string            `json:"error"`
	Hint    string            `json:"hint"`
	Fields  map[string]string `json:"fields"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("http %d", e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "slot_unavailable":
		return domain.ErrSlotUnavailable
	case "not_found":
		return domain.ErrNotFound
	case "invalid_transition":
		return domain.ErrInvalidTransition
	case "concurrent_modification":
		return domain.ErrConcurrentModification
	case "invalid_input":
		return domain.ErrInvalidInput
	case "unavailable":
		return domain.ErrPersistenceUnavailable
	}
	return nil
}

func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache enables caching of meeting types and upcoming dates.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

func (c *Client) MeetingTypes(ctx context.Context) ([]models.MeetingTypeOption, error) {
	var wrap struct {
		MeetingTypes []models.MeetingTypeOption `json:"meeting_types"`
	}
	if c.readCache(ctx, "meeting_types", &wrap) {
		return wrap.MeetingTypes, nil
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/meeting-types", nil, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, "meeting_types", wrap)
	return wrap.MeetingTypes, nil
}

// Dates returns the next bookable days rendered for zone.
func (c *Client) Dates(ctx context.Context, zone string, limit int) ([]availability.ConvertedWindow, error) {
	q := url.Values{}
	if zone != "" {
		q.Set("timezone", zone)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	cacheKey := "dates:" + q.Encode()

	var wrap struct {
		Dates []availability.ConvertedWindow `json:"dates"`
	}
	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Dates, nil
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/dates", q), nil, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Dates, nil
}

// Slots lists open slots of one organizer date, labeled in zone.
func (c *Client) Slots(ctx context.Context, date, zone, meetingType string) ([]models.TimeSlot, error) {
	q := url.Values{}
	q.Set("date", date)
	if zone != "" {
		q.Set("timezone", zone)
	}
	if meetingType != "" {
		q.Set("meeting_type", meetingType)
	}

	var wrap struct {
		Slots []models.TimeSlot `json:"slots"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/slots", q), nil, &wrap); err != nil {
		return nil, err
	}
	return wrap.Slots, nil
}

func (c *Client) CreateBooking(ctx context.Context, draft models.BookingDraft) (*models.Booking, error) {
	var b models.Booking
	if err := c.do(ctx, http.MethodPost, "/api/v1/bookings", draft, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := c.do(ctx, http.MethodGet, "/api/v1/bookings/"+url.PathEscape(id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) CancelBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := c.do(ctx, http.MethodPost, "/api/v1/bookings/"+url.PathEscape(id)+"/cancel", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cachePrefix+key, data, c.cacheTTL).Err()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		// тело ошибки может быть пустым или не JSON
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsSlotTaken reports whether err means the requested time was already booked.
func IsSlotTaken(err error) bool {
	return errors.Is(err, domain.ErrSlotUnavailable)
}
