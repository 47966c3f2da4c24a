package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/fundwatch/internal/clients/eastmoney"
	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/interfaces"
	"github.com/bobmcallan/fundwatch/internal/services/ledger"
	"github.com/bobmcallan/fundwatch/internal/services/refresh"
	"github.com/bobmcallan/fundwatch/internal/services/settlement"
	syncsvc "github.com/bobmcallan/fundwatch/internal/services/sync"
	"github.com/bobmcallan/fundwatch/internal/storage/localdb"
	"github.com/bobmcallan/fundwatch/internal/storage/remote"
)

// App holds all initialized clients, stores, and services. It is the
// shared core behind cmd/fundwatch-server.
type App struct {
	Config            *common.Config
	Logger            *common.Logger
	Store             interfaces.LocalStateStore
	Gateway           interfaces.ValuationGateway
	LedgerService     interfaces.LedgerService
	SettlementService interfaces.SettlementService
	RefreshService    interfaces.RefreshService
	Sync              interfaces.SyncCoordinator
	Marker            interfaces.DirtyMarker
	UserID            string
	StartupTime       time.Time

	remoteStore     interfaces.RemoteConfigStore
	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes stores, clients, and services. configPath may be
// empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Config resolution: provided path, FUNDWATCH_CONFIG, binary dir,
	// then the development fallback.
	if configPath == "" {
		configPath = os.Getenv("FUNDWATCH_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "fundwatch.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/fundwatch.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := localdb.NewStore(logger, config.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}

	clientOpts := []eastmoney.ClientOption{
		eastmoney.WithLogger(logger),
		eastmoney.WithTimeout(config.Clients.Eastmoney.GetTimeout()),
	}
	if config.Clients.Eastmoney.EstimateBaseURL != "" {
		clientOpts = append(clientOpts, eastmoney.WithEstimateBaseURL(config.Clients.Eastmoney.EstimateBaseURL))
	}
	if config.Clients.Eastmoney.HistoryBaseURL != "" {
		clientOpts = append(clientOpts, eastmoney.WithHistoryBaseURL(config.Clients.Eastmoney.HistoryBaseURL))
	}
	if config.Clients.Eastmoney.RateLimit > 0 {
		clientOpts = append(clientOpts, eastmoney.WithRateLimit(config.Clients.Eastmoney.RateLimit))
	}
	gateway := eastmoney.NewClient(clientOpts...)

	// The sync identity doubles as the local state owner; without one the
	// profile name scopes local state.
	userID := config.Sync.UserID
	if userID == "" {
		userID = config.Profile
	}
	if userID == "" {
		userID = "local"
	}

	// Remote sync is optional: without it the coordinator is replaced by
	// a no-op marker and everything stays local.
	var remoteStore interfaces.RemoteConfigStore
	var syncCoord *syncsvc.Coordinator
	var coordinator interfaces.SyncCoordinator
	var marker interfaces.DirtyMarker = syncsvc.NoopMarker{}
	if config.SyncReady() {
		remoteStore, err = remote.NewStore(logger, config.Sync)
		if err != nil {
			logger.Warn().Err(err).Msg("Remote config store unavailable, running local-only")
		} else {
			syncCoord = syncsvc.NewCoordinator(store, remoteStore, logger, config.Sync, nil)
			coordinator = syncCoord
			marker = syncCoord
		}
	}

	ledgerService := ledger.NewService(store, marker, logger)
	settlementService := settlement.NewService(store, gateway, marker, nil, logger)
	refreshService := refresh.NewService(store, gateway, settlementService, marker, logger)

	// A remote payload can introduce codes whose snapshots are stale or
	// missing locally; refresh right after it lands.
	if syncCoord != nil {
		syncCoord.SetOnApplied(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := refreshService.RefreshAll(ctx, userID); err != nil && !errors.Is(err, interfaces.ErrRefreshInProgress) {
				logger.Warn().Err(err).Msg("Refresh after remote apply failed")
			}
		})
	}

	a := &App{
		Config:            config,
		Logger:            logger,
		Store:             store,
		Gateway:           gateway,
		LedgerService:     ledgerService,
		SettlementService: settlementService,
		RefreshService:    refreshService,
		Sync:              coordinator,
		Marker:            marker,
		UserID:            userID,
		StartupTime:       startupStart,
		remoteStore:       remoteStore,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// Login connects the sync coordinator if sync is configured. A returned
// conflict waits for resolution via the API; it is not an error.
func (a *App) Login(ctx context.Context) error {
	if a.Sync == nil {
		return nil
	}
	conflict, err := a.Sync.Login(ctx)
	if err != nil {
		return err
	}
	if conflict != nil {
		a.Logger.Info().Msg("Sync login found differing remote state, resolution required")
	}
	return nil
}

// StartScheduler launches the periodic refresh goroutine.
func (a *App) StartScheduler() {
	ctx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	go runScheduler(ctx, a.RefreshService, a.Store, a.UserID, a.Logger)
}

// Close releases all resources. Shutdown order: stop the scheduler,
// flush and close sync, close the remote connection, close local storage.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Sync != nil {
		if err := a.Sync.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Sync coordinator close failed")
		}
		a.Sync = nil
	}
	if a.remoteStore != nil {
		a.remoteStore.Close()
		a.remoteStore = nil
	}
	if a.Store != nil {
		a.Store.Close()
		a.Store = nil
	}
}
