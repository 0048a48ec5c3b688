package graphstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/ziadkadry99/fingraph/internal/query"
)

// Neo4jOptions configures the driver.
type Neo4jOptions struct {
	URI      string
	Username string
	Password string
	Database string

	MaxPoolSize           int
	AcquisitionTimeout    time.Duration
	QueryTimeout          time.Duration
	MaxConnectionLifetime time.Duration

	Logger *slog.Logger
}

// Neo4jExecutor runs queries over bolt in explicit read transactions.
type Neo4jExecutor struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewNeo4jExecutor creates a driver. No connection is made until the first
// query or Ping.
func NewNeo4jExecutor(opts Neo4jOptions) (*Neo4jExecutor, error) {
	if opts.URI == "" {
		return nil, errors.New("graph uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.Username, opts.Password, ""),
		func(c *config.Config) {
			if opts.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = opts.MaxPoolSize
			}
			if opts.AcquisitionTimeout > 0 {
				c.ConnectionAcquisitionTimeout = opts.AcquisitionTimeout
			}
			if opts.MaxConnectionLifetime > 0 {
				c.MaxConnectionLifetime = opts.MaxConnectionLifetime
			}
		})
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jExecutor{driver: driver, database: opts.Database, timeout: opts.QueryTimeout, logger: logger}, nil
}

// Execute runs q in a read session with a single explicit transaction.
func (e *Neo4jExecutor) Execute(ctx context.Context, q query.CandidateQuery) (res Result, err error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: e.database,
	})
	defer func() {
		if cerr := session.Close(ctx); cerr != nil {
			e.logger.Debug("closing graph session", "error", cerr)
		}
	}()

	var txOpts []func(*neo4j.TransactionConfig)
	if e.timeout > 0 {
		txOpts = append(txOpts, neo4j.WithTxTimeout(e.timeout))
	}
	tx, err := session.BeginTransaction(ctx, txOpts...)
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	cursor, err := tx.Run(ctx, q.Text, q.Parameters)
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	records, err := cursor.Collect(ctx)
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return Result{}, classify(ctx, err)
	}

	res.Records = make([]Record, len(records))
	for i, r := range records {
		values := make([]any, len(r.Values))
		for j, v := range r.Values {
			values[j] = plainValue(v)
		}
		res.Records[i] = Record{Keys: append([]string(nil), r.Keys...), Values: values}
	}
	return res, nil
}

// Ping verifies that the store is reachable.
func (e *Neo4jExecutor) Ping(ctx context.Context) error {
	if err := e.driver.VerifyConnectivity(ctx); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// Close releases the driver's connections.
func (e *Neo4jExecutor) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

// classify maps driver errors onto execution error kinds.
func classify(ctx context.Context, err error) *ExecutionError {
	var (
		neoErr  *neo4j.Neo4jError
		connErr *neo4j.ConnectivityError
		limit   *neo4j.TransactionExecutionLimit
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return &ExecutionError{Kind: KindTimeout, Err: err}
	case errors.As(err, &neoErr):
		code := neoErr.Code
		switch {
		case strings.Contains(code, "TransactionTimedOut"), strings.Contains(code, "Terminated"):
			return &ExecutionError{Kind: KindTimeout, Err: err}
		case strings.HasPrefix(code, "Neo.ClientError."):
			return &ExecutionError{Kind: KindRejected, Err: err}
		}
		return &ExecutionError{Kind: KindUnknown, Err: err}
	case errors.As(err, &limit):
		return &ExecutionError{Kind: KindTimeout, Err: err}
	case errors.As(err, &connErr):
		return &ExecutionError{Kind: KindConnectivity, Err: err}
	}
	return &ExecutionError{Kind: KindUnknown, Err: err}
}

// plainValue converts driver types into strings, numbers, maps and slices.
func plainValue(v any) any {
	switch x := v.(type) {
	case neo4j.Date:
		return x.Time().Format("2006-01-02")
	case neo4j.LocalDateTime:
		return x.Time().Format("2006-01-02T15:04:05")
	case time.Time:
		return x.Format(time.RFC3339)
	case neo4j.Node:
		return plainValue(x.Props)
	case neo4j.Relationship:
		return plainValue(x.Props)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plainValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plainValue(val)
		}
		return out
	}
	return v
}
