package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"trading/internal/chaos"
	"trading/internal/engine"
	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/internal/risk"
	"trading/internal/strategy"
	"trading/pkg/conn"
)

const (
	EnvTraderID    = "TRADING_TRADER_ID"
	EnvPersistence = "TRADING_PERSISTENCE"
	EnvPostgresDSN = "TRADING_PG_DSN"
	EnvPebblePath  = "TRADING_PEBBLE_PATH"
	EnvAPIAddr     = "TRADING_API_ADDR"
	EnvLogFormat   = "TRADING_LOG_FORMAT"
)

const (
	defaultAPIAddr      = ":8080"
	defaultVenueKind    = "sim"
	defaultLogFormat    = "text"
	defaultLogLevel     = "info"
	defaultAppName      = "trading"
	defaultRateWindow   = time.Second
	defaultWriteTimeout = 5 * time.Second
)

// FileConfig mirrors the config file layout. Decimals are strings so they
// survive both JSON and YAML without float rounding.
type FileConfig struct {
	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Risk        RiskConfig        `json:"risk" yaml:"risk"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	API         APIConfig         `json:"api" yaml:"api"`
	Log         LogConfig         `json:"log" yaml:"log"`
	Profiling   ProfilingConfig   `json:"profiling" yaml:"profiling"`
	Venues      []VenueConfig     `json:"venues" yaml:"venues"`
	Strategies  []StrategyConfig  `json:"strategies" yaml:"strategies"`
}

type EngineConfig struct {
	TraderID            string `json:"traderId" yaml:"traderId"`
	QueueSize           int    `json:"queueSize" yaml:"queueSize"`
	DuplicateFillPolicy string `json:"duplicateFillPolicy" yaml:"duplicateFillPolicy"`
}

type RiskConfig struct {
	KillSwitch           bool   `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty          string `json:"maxOrderQty" yaml:"maxOrderQty"`
	MaxOrderNotional     string `json:"maxOrderNotional" yaml:"maxOrderNotional"`
	MaxPosition          string `json:"maxPosition" yaml:"maxPosition"`
	OrderRateLimit       int    `json:"orderRateLimit" yaml:"orderRateLimit"`
	OrderRateWindow      string `json:"orderRateWindow" yaml:"orderRateWindow"`
	MaxPriceDeviationBps int64  `json:"maxPriceDeviationBps" yaml:"maxPriceDeviationBps"`
}

type PersistenceConfig struct {
	Backend      string         `json:"backend" yaml:"backend"`
	PebblePath   string         `json:"pebblePath" yaml:"pebblePath"`
	Postgres     PostgresConfig `json:"postgres" yaml:"postgres"`
	SnapshotPath string         `json:"snapshotPath" yaml:"snapshotPath"`
	WriteTimeout string         `json:"writeTimeout" yaml:"writeTimeout"`
}

type PostgresConfig struct {
	DSN          string `json:"dsn" yaml:"dsn"`
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	User         string `json:"user" yaml:"user"`
	Password     string `json:"password" yaml:"password"`
	Database     string `json:"database" yaml:"database"`
	SSLMode      string `json:"sslMode" yaml:"sslMode"`
	MaxOpenConns int    `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns int    `json:"maxIdleConns" yaml:"maxIdleConns"`
	// durations, e.g. "30m"
	ConnMaxLifetime string `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	ConnectTimeout  string `json:"connectTimeout" yaml:"connectTimeout"`
	SlowQuery       string `json:"slowQuery" yaml:"slowQuery"`
}

type APIConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

type LogConfig struct {
	Format string `json:"format" yaml:"format"`
	Level  string `json:"level" yaml:"level"`
}

type ProfilingConfig struct {
	PyroscopeAddr string `json:"pyroscopeAddr" yaml:"pyroscopeAddr"`
	AppName       string `json:"appName" yaml:"appName"`
}

// VenueConfig describes a venue connector. Prices seed the simulated book
// keyed by instrument id.
type VenueConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Kind    string            `json:"kind" yaml:"kind"`
	Account string            `json:"account" yaml:"account"`
	Prices  map[string]string `json:"prices" yaml:"prices"`
	Chaos   *ChaosConfig      `json:"chaos" yaml:"chaos"`
}

type ChaosConfig struct {
	Seed          int64   `json:"seed" yaml:"seed"`
	DropRate      float64 `json:"dropRate" yaml:"dropRate"`
	DuplicateRate float64 `json:"duplicateRate" yaml:"duplicateRate"`
	ReorderWindow int     `json:"reorderWindow" yaml:"reorderWindow"`
}

// StrategyConfig lists the orders a demo strategy submits on start.
type StrategyConfig struct {
	ID     string        `json:"id" yaml:"id"`
	Orders []OrderConfig `json:"orders" yaml:"orders"`
}

type OrderConfig struct {
	Instrument  string `json:"instrument" yaml:"instrument"`
	Side        string `json:"side" yaml:"side"`
	Kind        string `json:"kind" yaml:"kind"`
	TimeInForce string `json:"timeInForce" yaml:"timeInForce"`
	Qty         string `json:"qty" yaml:"qty"`
	Price       string `json:"price" yaml:"price"`
	Trigger     string `json:"trigger" yaml:"trigger"`
	PositionID  string `json:"positionId" yaml:"positionId"`
}

// Backend selects the persistence implementation behind the cache.
type Backend uint8

const (
	_backend_beg Backend = iota
	BackendBypass
	BackendPebble
	BackendPostgres
	_backend_end
)

func (b Backend) IsAvailable() bool {
	return b > _backend_beg && b < _backend_end
}

func (b Backend) String() string {
	switch b {
	case BackendBypass:
		return "bypass"
	case BackendPebble:
		return "pebble"
	case BackendPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

func parseBackend(s string) (Backend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return BackendBypass, nil
	}
	for b := _backend_beg + 1; b < _backend_end; b++ {
		if b.String() == s {
			return b, nil
		}
	}
	return _backend_beg, fmt.Errorf("unknown persistence backend %q", s)
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Engine      engine.Config
	Risk        risk.Config
	Persistence Persistence
	API         API
	Log         Log
	Profiling   Profiling
	Venues      []Venue
	Strategies  []Strategy
}

type Persistence struct {
	Backend      Backend
	PebblePath   string
	Postgres     conn.Settings
	SnapshotPath string
	WriteTimeout time.Duration
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Log struct {
	Format string
	Level  string
}

// JSON reports whether the structured zap logger was requested.
func (l Log) JSON() bool {
	return l.Format == "json"
}

type Profiling struct {
	PyroscopeAddr string
	AppName       string
}

type Venue struct {
	Name    model.Venue
	Account model.AccountID
	Prices  map[model.InstrumentID]decimal.Decimal
	Chaos   chaos.Config
}

type Strategy struct {
	ID    model.StrategyID
	Steps []strategy.Step
}

// Default is the single-venue demo session used when no config file is given.
func Default() FileConfig {
	return FileConfig{
		Engine:      EngineConfig{TraderID: "TRADER-001"},
		Persistence: PersistenceConfig{Backend: BackendBypass.String()},
		Risk: RiskConfig{
			MaxOrderQty: "1000000",
			MaxPosition: "5000000",
		},
		Venues: []VenueConfig{{
			Name:    "SIM",
			Kind:    defaultVenueKind,
			Account: "SIM-001",
			Prices:  map[string]string{"AUD/USD.SIM": "1.00000"},
		}},
		Strategies: []StrategyConfig{{
			ID: "EMA-CROSS-001",
			Orders: []OrderConfig{
				{Instrument: "AUD/USD.SIM", Side: "BUY", Kind: "MARKET", Qty: "100000"},
				{Instrument: "AUD/USD.SIM", Side: "SELL", Kind: "MARKET", Qty: "150000"},
				{Instrument: "AUD/USD.SIM", Side: "BUY", Kind: "LIMIT", Qty: "50000", Price: "0.99000"},
			},
		}},
	}
}

// LoadDefault resolves Default after environment overrides.
func LoadDefault(envFiles ...string) (Loaded, error) {
	cfg := Default()
	_ = godotenv.Load(envFiles...)
	ApplyEnv(&cfg)
	return Resolve(cfg)
}

// Load reads a JSON or YAML config file, applies environment overrides and
// resolves it. envFiles are loaded with godotenv first; with none given a
// .env in the working directory is tried.
func Load(path string, envFiles ...string) (Loaded, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	_ = godotenv.Load(envFiles...)
	ApplyEnv(&cfg)
	return Resolve(cfg)
}

// ReadFile decodes path by its extension. .yaml and .yml are YAML, anything
// else is JSON.
func ReadFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrap(err, "read config").With("path", path)
	}
	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = sonic.Unmarshal(data, &cfg)
	}
	if err != nil {
		return FileConfig{}, errors.Wrap(err, "decode config").With("path", path)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the TRADING_* variables that are set.
func ApplyEnv(cfg *FileConfig) {
	if v := os.Getenv(EnvTraderID); v != "" {
		cfg.Engine.TraderID = v
	}
	if v := os.Getenv(EnvPersistence); v != "" {
		cfg.Persistence.Backend = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Persistence.Postgres.DSN = v
	}
	if v := os.Getenv(EnvPebblePath); v != "" {
		cfg.Persistence.PebblePath = v
	}
	if v := os.Getenv(EnvAPIAddr); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
}

// Resolve validates cfg and fills defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	engineCfg, err := resolveEngine(cfg.Engine)
	if err != nil {
		return Loaded{}, err
	}
	riskCfg, err := resolveRisk(cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}
	persistence, err := resolvePersistence(cfg.Persistence, engineCfg.TraderID)
	if err != nil {
		return Loaded{}, err
	}
	venues, err := resolveVenues(cfg.Venues)
	if err != nil {
		return Loaded{}, err
	}
	strategies, err := resolveStrategies(cfg.Strategies, venues)
	if err != nil {
		return Loaded{}, err
	}

	logCfg := Log{
		Format: strings.ToLower(strings.TrimSpace(cfg.Log.Format)),
		Level:  strings.ToLower(strings.TrimSpace(cfg.Log.Level)),
	}
	if logCfg.Format == "" {
		logCfg.Format = defaultLogFormat
	}
	if logCfg.Format != "text" && logCfg.Format != "json" {
		return Loaded{}, fmt.Errorf("log format must be text or json, got %q", cfg.Log.Format)
	}
	if logCfg.Level == "" {
		logCfg.Level = defaultLogLevel
	}

	api := API{Addr: cfg.API.Addr, AllowedOrigins: cfg.API.AllowedOrigins}
	if api.Addr == "" {
		api.Addr = defaultAPIAddr
	}

	profiling := Profiling{PyroscopeAddr: cfg.Profiling.PyroscopeAddr, AppName: cfg.Profiling.AppName}
	if profiling.AppName == "" {
		profiling.AppName = defaultAppName
	}

	return Loaded{
		Engine:      engineCfg,
		Risk:        riskCfg,
		Persistence: persistence,
		API:         api,
		Log:         logCfg,
		Profiling:   profiling,
		Venues:      venues,
		Strategies:  strategies,
	}, nil
}

func resolveEngine(cfg EngineConfig) (engine.Config, error) {
	if strings.TrimSpace(cfg.TraderID) == "" {
		return engine.Config{}, fmt.Errorf("engine traderId is empty")
	}
	if cfg.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("engine queueSize must be >= 0")
	}
	policy, err := engine.ParseDuplicateFillPolicy(cfg.DuplicateFillPolicy)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		TraderID:            model.TraderID(cfg.TraderID),
		QueueSize:           cfg.QueueSize,
		DuplicateFillPolicy: policy,
	}, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	out := risk.Config{
		KillSwitch:           cfg.KillSwitch,
		OrderRateLimit:       cfg.OrderRateLimit,
		MaxPriceDeviationBps: cfg.MaxPriceDeviationBps,
	}
	var err error
	if out.MaxOrderQty, err = optionalDecimal("risk maxOrderQty", cfg.MaxOrderQty); err != nil {
		return risk.Config{}, err
	}
	if out.MaxOrderNotional, err = optionalDecimal("risk maxOrderNotional", cfg.MaxOrderNotional); err != nil {
		return risk.Config{}, err
	}
	if out.MaxPosition, err = optionalDecimal("risk maxPosition", cfg.MaxPosition); err != nil {
		return risk.Config{}, err
	}
	if cfg.OrderRateLimit < 0 || cfg.MaxPriceDeviationBps < 0 {
		return risk.Config{}, fmt.Errorf("risk limits must be >= 0")
	}
	if cfg.OrderRateLimit > 0 {
		out.OrderRateWindow = defaultRateWindow
		if cfg.OrderRateWindow != "" {
			d, err := time.ParseDuration(cfg.OrderRateWindow)
			if err != nil || d <= 0 {
				return risk.Config{}, fmt.Errorf("risk orderRateWindow %q is not a positive duration", cfg.OrderRateWindow)
			}
			out.OrderRateWindow = d
		}
	}
	return out, nil
}

func resolvePersistence(cfg PersistenceConfig, trader model.TraderID) (Persistence, error) {
	backend, err := parseBackend(cfg.Backend)
	if err != nil {
		return Persistence{}, err
	}
	out := Persistence{
		Backend:      backend,
		PebblePath:   cfg.PebblePath,
		SnapshotPath: cfg.SnapshotPath,
		WriteTimeout: defaultWriteTimeout,
		Postgres: conn.Settings{
			DSN: cfg.Postgres.DSN,
			Endpoint: conn.Endpoint{
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				Database: cfg.Postgres.Database,
				SSLMode:  cfg.Postgres.SSLMode,
			},
			Pool:    conn.Pool{MaxOpen: cfg.Postgres.MaxOpenConns, MaxIdle: cfg.Postgres.MaxIdleConns},
			AppName: string(trader),
		},
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"postgres connMaxLifetime", cfg.Postgres.ConnMaxLifetime, &out.Postgres.Pool.MaxLifetime},
		{"postgres connectTimeout", cfg.Postgres.ConnectTimeout, &out.Postgres.ConnectTimeout},
		{"postgres slowQuery", cfg.Postgres.SlowQuery, &out.Postgres.SlowQuery},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return Persistence{}, fmt.Errorf("persistence %s %q is not a positive duration", d.name, d.raw)
		}
		*d.dst = v
	}
	if cfg.WriteTimeout != "" {
		d, err := time.ParseDuration(cfg.WriteTimeout)
		if err != nil || d <= 0 {
			return Persistence{}, fmt.Errorf("persistence writeTimeout %q is not a positive duration", cfg.WriteTimeout)
		}
		out.WriteTimeout = d
	}

	switch backend {
	case BackendPebble:
		if out.PebblePath == "" {
			return Persistence{}, fmt.Errorf("persistence pebblePath is required for the pebble backend")
		}
	case BackendPostgres:
		if out.Postgres.DSN == "" && out.Postgres.Endpoint.Database == "" {
			return Persistence{}, fmt.Errorf("persistence postgres needs a dsn or a database name")
		}
	}
	return out, nil
}

func resolveVenues(cfgs []VenueConfig) ([]Venue, error) {
	venues := make([]Venue, 0, len(cfgs))
	seen := make(map[model.Venue]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		name := model.Venue(strings.TrimSpace(cfg.Name))
		if name == "" {
			return nil, fmt.Errorf("venue name is empty")
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate venue %s", name)
		}
		seen[name] = struct{}{}

		kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
		if kind == "" {
			kind = defaultVenueKind
		}
		if kind != defaultVenueKind {
			return nil, fmt.Errorf("venue %s: unsupported kind %q", name, cfg.Kind)
		}

		v := Venue{
			Name:    name,
			Account: model.AccountID(cfg.Account),
			Prices:  make(map[model.InstrumentID]decimal.Decimal, len(cfg.Prices)),
			Chaos:   chaos.Config{ReorderWindow: 1},
		}
		if v.Account == "" {
			v.Account = model.AccountID(string(name) + "-001")
		}
		for inst, raw := range cfg.Prices {
			id := model.InstrumentID(inst)
			if id.Venue() != name {
				return nil, fmt.Errorf("venue %s: price for foreign instrument %s", name, inst)
			}
			px, err := decimal.NewFromString(raw)
			if err != nil || !px.IsPositive() {
				return nil, fmt.Errorf("venue %s: price %q for %s must be a positive decimal", name, raw, inst)
			}
			v.Prices[id] = px
		}
		if cfg.Chaos != nil {
			v.Chaos = chaos.Config{
				Seed:          cfg.Chaos.Seed,
				DropRate:      cfg.Chaos.DropRate,
				DuplicateRate: cfg.Chaos.DuplicateRate,
				ReorderWindow: cfg.Chaos.ReorderWindow,
			}
			if v.Chaos.ReorderWindow == 0 {
				v.Chaos.ReorderWindow = 1
			}
			if err := v.Chaos.Validate(); err != nil {
				return nil, fmt.Errorf("venue %s chaos: %w", name, err)
			}
		}
		venues = append(venues, v)
	}
	return venues, nil
}

func resolveStrategies(cfgs []StrategyConfig, venues []Venue) ([]Strategy, error) {
	known := make(map[model.Venue]struct{}, len(venues))
	for _, v := range venues {
		known[v.Name] = struct{}{}
	}

	strategies := make([]Strategy, 0, len(cfgs))
	seen := make(map[model.StrategyID]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		id := model.StrategyID(strings.TrimSpace(cfg.ID))
		if id == "" {
			return nil, fmt.Errorf("strategy id is empty")
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("duplicate strategy %s", id)
		}
		seen[id] = struct{}{}

		s := Strategy{ID: id, Steps: make([]strategy.Step, 0, len(cfg.Orders))}
		for i, oc := range cfg.Orders {
			spec, err := resolveOrder(oc)
			if err != nil {
				return nil, fmt.Errorf("strategy %s order %d: %w", id, i, err)
			}
			if _, ok := known[spec.Instrument.Venue()]; !ok {
				return nil, fmt.Errorf("strategy %s order %d: venue %s not configured", id, i, spec.Instrument.Venue())
			}
			s.Steps = append(s.Steps, spec)
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}

func resolveOrder(cfg OrderConfig) (strategy.Step, error) {
	if cfg.Instrument == "" {
		return strategy.Step{}, fmt.Errorf("instrument is empty")
	}
	spec := strategy.Step{
		Instrument:  model.InstrumentID(cfg.Instrument),
		PositionID:  model.PositionID(cfg.PositionID),
		Kind:        enum.OrderKindMarket,
		TimeInForce: enum.TimeInForceGTC,
	}
	if spec.Instrument.Venue() == "" {
		return strategy.Step{}, fmt.Errorf("instrument %s has no venue suffix", cfg.Instrument)
	}
	if err := spec.Side.UnmarshalText([]byte(cfg.Side)); err != nil {
		return strategy.Step{}, fmt.Errorf("side: %w", err)
	}
	if cfg.Kind != "" {
		if err := spec.Kind.UnmarshalText([]byte(cfg.Kind)); err != nil {
			return strategy.Step{}, fmt.Errorf("kind: %w", err)
		}
	}
	if cfg.TimeInForce != "" {
		if err := spec.TimeInForce.UnmarshalText([]byte(cfg.TimeInForce)); err != nil {
			return strategy.Step{}, fmt.Errorf("timeInForce: %w", err)
		}
	}

	qty, err := decimal.NewFromString(cfg.Qty)
	if err != nil || !qty.IsPositive() {
		return strategy.Step{}, fmt.Errorf("qty %q must be a positive decimal", cfg.Qty)
	}
	spec.Qty = qty
	if spec.Price, err = optionalDecimal("price", cfg.Price); err != nil {
		return strategy.Step{}, err
	}
	if spec.Trigger, err = optionalDecimal("trigger", cfg.Trigger); err != nil {
		return strategy.Step{}, err
	}

	switch spec.Kind {
	case enum.OrderKindLimit:
		if !spec.Price.IsPositive() {
			return strategy.Step{}, fmt.Errorf("price must be > 0 for limit orders")
		}
	case enum.OrderKindStop:
		if !spec.Trigger.IsPositive() {
			return strategy.Step{}, fmt.Errorf("trigger must be > 0 for stop orders")
		}
	case enum.OrderKindStopLimit:
		if !spec.Price.IsPositive() || !spec.Trigger.IsPositive() {
			return strategy.Step{}, fmt.Errorf("price and trigger must be > 0 for stop limit orders")
		}
	}
	return spec, nil
}

func optionalDecimal(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q is not a decimal", field, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must be >= 0", field)
	}
	return d, nil
}
