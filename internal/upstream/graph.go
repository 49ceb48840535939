package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every single upstream request.
const DefaultTimeout = 15 * time.Second

// GraphClient posts GraphQL queries to an indexing endpoint.
type GraphClient struct {
	endpoint string
	client   *http.Client
	retry    RetryConfig
	logger   *zap.Logger
}

// Option configures upstream clients.
type Option func(*options)

type options struct {
	client *http.Client
	retry  RetryConfig
	logger *zap.Logger
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.client = &http.Client{Timeout: d, Transport: o.client.Transport}
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{
		client: &http.Client{Timeout: DefaultTimeout},
		retry:  DefaultRetryConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewGraphClient creates a client for one GraphQL endpoint.
func NewGraphClient(endpoint string, opts ...Option) *GraphClient {
	o := buildOptions(opts)
	return &GraphClient{
		endpoint: endpoint,
		client:   o.client,
		retry:    o.retry,
		logger:   o.logger.Named("graph"),
	}
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphError    `json:"errors"`
}

type graphError struct {
	Message string `json:"message"`
}

// GraphErrors is returned when the endpoint answers with a GraphQL errors array.
type GraphErrors []graphError

func (e GraphErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ge := range e {
		msgs[i] = ge.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// Query runs query and decodes the data field into out.
// Transport failures, 429 and 5xx are retried. GraphQL errors are not.
func (c *GraphClient) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	return WithBackoff(ctx, c.retry, c.logger, "graph.query", func(ctx context.Context) error {
		var resp graphResponse
		if err := doJSON(ctx, c.client, http.MethodPost, c.endpoint, graphRequest{Query: query, Variables: vars}, &resp, "graph"); err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			return Permanent(GraphErrors(resp.Errors))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return Permanent(fmt.Errorf("%w: decode data: %v", ErrMalformed, err))
		}
		return nil
	})
}
