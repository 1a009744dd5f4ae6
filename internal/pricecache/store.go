// Package pricecache persists quoted prices keyed by service, vehicle and
// variant.
package pricecache

import (
	"context"
	"database/sql"
	"errors"
	_ "embed"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"autoquote-backend/internal/catalog"
	"autoquote-backend/internal/components/assert"
	"autoquote-backend/internal/components/chrono"
	"autoquote-backend/internal/components/telemetry"
	"autoquote-backend/internal/db"
	"autoquote-backend/pkg/migrations"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sqlite.sql
var SqliteSchema string

//go:embed schema.postgres.sql
var PostgresSchema string

// unavailable tags failed reads and writes, which degrade to a miss or a
// no-op.
const unavailable = "CacheUnavailable"

// Schema returns the schema for the given dialect.
func Schema(dialect migrations.Dialect) string {
	if dialect == migrations.Postgres {
		return PostgresSchema
	}
	return SqliteSchema
}

var tracer = otel.Tracer("autoquote/internal/pricecache")

const (
	report_store_get  = "store.get"
	report_store_put  = "store.put"
	report_store_list = "store.list"
)

// Entry is the logically current row for one cache key.
type Entry struct {
	ServiceID   string
	VehicleKey  string
	Selection   *string
	Price       float64
	LastUpdated time.Time
}

// Services tells the store which services take a variant.
type Services interface {
	Lookup(id string) (*catalog.ServiceDescriptor, bool)
}

type implementationCfg struct {
	tel    telemetry.API
	policy FreshnessPolicy
}

type ImplementationOption func(cfg *implementationCfg)

func WithCustomTelemetryAPI(tel telemetry.API) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.tel = tel
	}
}

// WithFreshnessPolicy overrides the default Indefinite policy.
func WithFreshnessPolicy(policy FreshnessPolicy) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.policy = policy
	}
}

// Store is the price cache. A Store without a database (or whose database
// fails) behaves as an always-missing, write-discarding cache, it never fails
// a price resolution.
type Store struct {
	db       *sql.DB
	dialect  migrations.Dialect
	makeTx   db.MakeTx
	services Services
	clock    chrono.API
	tel      telemetry.API
	policy   FreshnessPolicy
}

// NewStore creates a store over database, which may be nil. The schema must
// already be applied, see Schema.
func NewStore(
	database *sql.DB,
	dialect migrations.Dialect,
	services Services,
	clock chrono.API,
	options ...ImplementationOption,
) Store {
	assert.NotNil(services)
	assert.NotNil(clock)

	cfg := implementationCfg{
		tel:    telemetry.SlogAPI{},
		policy: Indefinite{},
	}
	for _, opt := range options {
		opt(&cfg)
	}

	s := Store{
		db:       database,
		dialect:  dialect,
		services: services,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("pricecache", cfg.tel),
		policy:   cfg.policy,
	}
	if database != nil {
		s.makeTx = db.NewMakeTx(database)
	}
	return s
}

// Available reports whether the store has a database behind it.
func (s Store) Available() bool {
	return s.db != nil
}

// Policy returns the freshness policy reads are filtered with.
func (s Store) Policy() FreshnessPolicy {
	return s.policy
}

// selectionFor forces the variant to nil for services that take none so that
// every write for such a service lands in the same slot.
func (s Store) selectionFor(serviceID string, variant *string) *string {
	svc, ok := s.services.Lookup(serviceID)
	if !ok || !svc.RequiresVariant() || variant == nil {
		return nil
	}
	v := *variant
	return &v
}

// bind rewrites ? placeholders into $n ones for postgres.
func (s Store) bind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var out strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteString("$" + strconv.Itoa(n))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

func keyClause(selection *string, args *[]any) string {
	if selection == nil {
		return "service_id = ? and vehicle_key = ? and selection is null"
	}
	*args = append(*args, *selection)
	return "service_id = ? and vehicle_key = ? and selection = ?"
}

func spanFail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// Get returns the most recently updated row for the key. Duplicate rows are
// tolerated, the newest one wins. Any failure is reported and treated as a miss.
func (s Store) Get(ctx context.Context, serviceID, vehicleKey string, variant *string) (Entry, bool) {
	ctx, span := tracer.Start(ctx, "store:get")
	defer span.End()

	if s.db == nil {
		span.SetAttributes(attribute.Bool("custom.cache_unavailable", true))
		return Entry{}, false
	}

	selection := s.selectionFor(serviceID, variant)
	args := []any{serviceID, vehicleKey}
	where := keyClause(selection, &args)

	if cutoff, ok := s.policy.Cutoff(s.clock.Now()); ok {
		where += " and last_updated >= ?"
		args = append(args, cutoff.UnixMilli())
	}

	query := s.bind(fmt.Sprintf(
		"select price, last_updated from prices where %s order by last_updated desc, id desc limit 1",
		where,
	))
	span.SetAttributes(
		attribute.String("custom.service_id", serviceID),
		attribute.String("custom.vehicle_key", vehicleKey),
		attribute.String("custom.policy", s.policy.String()),
	)

	var price float64
	var updated int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&price, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("custom.hit", false))
		return Entry{}, false
	}
	if err != nil {
		spanFail(span, err, "failed to read cached price")
		s.tel.ReportBroken(report_store_get, unavailable, err, serviceID, vehicleKey)
		return Entry{}, false
	}

	span.SetAttributes(attribute.Bool("custom.hit", true))
	return Entry{
		ServiceID:   serviceID,
		VehicleKey:  vehicleKey,
		Selection:   selection,
		Price:       price,
		LastUpdated: time.UnixMilli(updated).In(s.clock.Location()),
	}, true
}

// RoundCents rounds a price to two decimals.
func RoundCents(price float64) float64 {
	return math.Round(price*100) / 100
}

// Put stores price for the key, overwriting any previous price and refreshing
// its timestamp. Failures are reported and otherwise ignored.
func (s Store) Put(ctx context.Context, serviceID, vehicleKey string, variant *string, price float64) {
	ctx, span := tracer.Start(ctx, "store:put")
	defer span.End()

	if s.db == nil {
		span.SetAttributes(attribute.Bool("custom.cache_unavailable", true))
		return
	}

	selection := s.selectionFor(serviceID, variant)
	price = RoundCents(price)
	now := s.clock.Now().UnixMilli()

	err := db.WithTx(ctx, s.makeTx, func(tx *sql.Tx) error {
		args := []any{price, now, serviceID, vehicleKey}
		update := s.bind(fmt.Sprintf(
			"update prices set price = ?, last_updated = ? where %s",
			keyClause(selection, &args),
		))
		res, err := tx.ExecContext(ctx, update, args...)
		if err != nil {
			return err
		}
		updated, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if updated > 0 {
			return nil
		}

		insert := s.bind("insert into prices (service_id, vehicle_key, selection, price, last_updated) values (?, ?, ?, ?, ?)")
		var selectionArg any
		if selection != nil {
			selectionArg = *selection
		}
		_, err = tx.ExecContext(ctx, insert, serviceID, vehicleKey, selectionArg, price, now)
		return err
	})
	if err != nil {
		spanFail(span, err, "failed to write cached price")
		s.tel.ReportBroken(report_store_put, unavailable, err, serviceID, vehicleKey)
	}
}

// List returns every row cached for serviceID (all services when empty),
// newest first, duplicates included.
func (s Store) List(ctx context.Context, serviceID string) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "store:list")
	defer span.End()

	if s.db == nil {
		return nil, fmt.Errorf("price cache is not configured")
	}

	query := "select service_id, vehicle_key, selection, price, last_updated from prices"
	args := []any{}
	if serviceID != "" {
		query += " where service_id = ?"
		args = append(args, serviceID)
	}
	query += " order by last_updated desc, id desc"

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		spanFail(span, err, "failed to list cached prices")
		s.tel.ReportBroken(report_store_list, err, serviceID)
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var selection sql.NullString
		var updated int64
		err := rows.Scan(&e.ServiceID, &e.VehicleKey, &selection, &e.Price, &updated)
		if err != nil {
			return nil, err
		}
		if selection.Valid {
			v := selection.String
			e.Selection = &v
		}
		e.LastUpdated = time.UnixMilli(updated).In(s.clock.Location())
		out = append(out, e)
	}
	return out, rows.Err()
}
