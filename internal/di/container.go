package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/payments"
	"github.com/greenbasket/api/internal/platform/config"
	"github.com/greenbasket/api/internal/platform/observability"
	"github.com/greenbasket/api/internal/platform/requestctx"
	"github.com/greenbasket/api/internal/repositories"
	"github.com/greenbasket/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Cart      services.CartService
	Inventory services.InventoryService
	Orders    services.OrderService
	Payments  services.PaymentService
	Users     services.UserService
	System    services.SystemService
	Jobs      services.BackgroundJobDispatcher
	Audit     services.AuditLogService
}

// Dependencies carries the externally constructed infrastructure the service
// graph is built on. The repository registry and payment gateway are required;
// the job publisher is optional so local setups can run without Pub/Sub.
type Dependencies struct {
	Registry  repositories.Registry
	Gateway   *payments.Manager
	Publisher services.JobPublisher
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Gateway      *payments.Manager
	Services     Services
}

// NewContainer constructs the runtime dependency graph. Production wiring
// provides Firestore-backed repositories and real gateway providers; tests can
// supply in-memory registries and stub providers.
func NewContainer(cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway manager is required")
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Gateway:      deps.Gateway,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	reg := deps.Registry

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logFn := serviceLogger(deps.Logger)

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      clock,
		Logger:     auditLoggerFor(deps.Logger),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Repository: reg.Inventory(),
		Clock:      clock,
		Logger:     logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Repository: reg.Products(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	pricer, err := services.NewShippingPricer(domain.ShippingRates{
		BaseRate:               cfg.Shipping.BaseRate,
		PerKgRate:              cfg.Shipping.PerKgRate,
		PerItemRate:            cfg.Shipping.PerItemRate,
		IncludedWeightGrams:    cfg.Shipping.IncludedWeightGrams,
		DefaultItemWeightGrams: cfg.Shipping.DefaultItemWeightGrams,
		ExpressSurcharge:       cfg.Shipping.ExpressSurcharge,
		FreeShippingThreshold:  cfg.Shipping.FreeShippingThreshold,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping pricer: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:        reg.Carts(),
		Catalog:           catalogSvc,
		Inventory:         inventorySvc,
		Shipping:          pricer,
		TaxRateBps:        cfg.Tax.CheckoutRateBps,
		PreviewTaxRateBps: cfg.Tax.PreviewRateBps,
		DefaultCurrency:   cfg.Orders.Currency,
		Clock:             clock,
		Logger:            logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	if deps.Publisher != nil {
		jobsSvc, err := services.NewBackgroundJobDispatcher(services.BackgroundJobDispatcherDeps{
			Publisher: deps.Publisher,
			Clock:     clock,
			Logger:    logFn,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build job dispatcher: %w", err)
		}
		svc.Jobs = jobsSvc
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Counters:      reg.Counters(),
		Cart:          cartSvc,
		Inventory:     inventorySvc,
		Gateway:       deps.Gateway,
		Jobs:          svc.Jobs,
		Audit:         auditSvc,
		Currency:      cfg.Orders.Currency,
		PendingExpiry: cfg.Orders.PendingExpiry,
		Clock:         clock,
		Logger:        logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:  reg.Orders(),
		Gateway: deps.Gateway,
		Jobs:    svc.Jobs,
		Audit:   auditSvc,
		Clock:   clock,
		Logger:  logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:     reg.Users(),
		Addresses: reg.Addresses(),
		Audit:     auditSvc,
		Clock:     clock,
		Logger:    logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Counters:         reg.Counters(),
		Audit:            auditSvc,
		Clock:            clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// serviceLogger adapts the process logger to the event-style logging hook the
// services expect. Request-scoped loggers from middleware take precedence.
func serviceLogger(fallback *zap.Logger) func(context.Context, string, map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := observability.FromContext(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zfields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		logger.Info(event, zfields...)
	}
}

func auditLoggerFor(logger *zap.Logger) services.AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}
