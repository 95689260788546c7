package supabase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cepro/northbridge/repository"
	supa "github.com/nedpals/supabase-go"
)

const (
	supabaseUploadTimeout = time.Second * 10
)

// Client provides an interface onto the Supabase platform.
// It hides the underlying open source supabase library and adds reconnection and timeout logic.
type Client struct {
	url     string
	anonKey string
	userKey string
	schema  string
	table   string

	uploadTimeout time.Duration

	mu              sync.Mutex
	subClient       *supa.Client // the raw client of the underlying supabase library we are using
	shouldReconnect bool         // when true, the subClient is 'dirty' and will be re-created next time a read or write call is made
	logger          *slog.Logger
}

func New(url, anonKey, userKey, schema, table string) (*Client, error) {
	if url == "" {
		return nil, errors.New("missing supabase url")
	}
	if table == "" {
		return nil, errors.New("missing supabase table")
	}

	client := &Client{
		url:             url,
		anonKey:         anonKey,
		userKey:         userKey,
		schema:          schema,
		table:           table,
		uploadTimeout:   supabaseUploadTimeout,
		shouldReconnect: true, // shouldReconnect is marked as true from instantiation so the connection will be made lazily on the first request to read or write
		logger:          slog.Default().With("host", url),
	}

	return client, nil
}

func (c *Client) Name() string {
	return "supabase"
}

// UploadReadings converts the given buffered readings into the supabase schema and inserts them into the configured
// table.
func (c *Client) UploadReadings(ctx context.Context, readings []repository.StoredReading) error {
	if len(readings) == 0 {
		return nil
	}

	subClient := c.reconnectIfNeccesary()
	supabaseReadings := convertReadings(readings)

	// The supabase client library doesn't have good timeout support, so here we wrap the call in a timeout
	errCh := make(chan error, 1)
	go func() {
		errCh <- subClient.DB.From(c.table).Insert(supabaseReadings).Execute(nil)
	}()

	select {
	case <-ctx.Done():
		c.setShouldReconnect()
		return ctx.Err()
	case <-time.After(c.uploadTimeout):
		c.setShouldReconnect()
		return errors.New("timed out")
	case err := <-errCh:
		if err != nil {
			c.setShouldReconnect()
			return fmt.Errorf("insert into %s: %w", c.table, err)
		}
		return nil
	}
}

// createSubClient creates the open-source supabase library client with sensible defaults.
func (c *Client) createSubClient() *supa.Client {

	subClient := supa.CreateClient(c.url, c.anonKey)

	// The supabase client library doesn't have a fully featured interface, here we specify options directly by
	// adding headers to the postgrest requests.
	// Use the appropriate schema:
	if c.schema != "" {
		subClient.DB.AddHeader("Accept-Profile", c.schema)
		subClient.DB.AddHeader("Content-Profile", c.schema)
	}

	// Use a user JWT:
	if c.userKey != "" {
		subClient.DB.AddHeader("Authorization", fmt.Sprintf("Bearer %s", c.userKey))
	}

	return subClient
}

// setShouldReconnect is called when there has been an error with the connection that should trigger a re-connect.
func (c *Client) setShouldReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldReconnect = true
}

// reconnectIfNeccesary re-creates the underlying client if there have been problems with the connection, and returns
// the client to use.
func (c *Client) reconnectIfNeccesary() *supa.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.shouldReconnect {
		return c.subClient
	}

	c.subClient = c.createSubClient()
	c.shouldReconnect = false

	c.logger.Info("Created supabase client")

	return c.subClient
}
