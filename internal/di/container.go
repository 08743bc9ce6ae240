package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/earth-harvest/checkout-api/internal/clients/orders"
	"github.com/earth-harvest/checkout-api/internal/handlers"
	"github.com/earth-harvest/checkout-api/internal/payments"
	"github.com/earth-harvest/checkout-api/internal/platform/auth"
	"github.com/earth-harvest/checkout-api/internal/platform/config"
	pfirestore "github.com/earth-harvest/checkout-api/internal/platform/firestore"
	"github.com/earth-harvest/checkout-api/internal/platform/jobs"
	"github.com/earth-harvest/checkout-api/internal/platform/observability"
	"github.com/earth-harvest/checkout-api/internal/repositories"
	fsrepo "github.com/earth-harvest/checkout-api/internal/repositories/firestore"
	"github.com/earth-harvest/checkout-api/internal/repositories/memory"
	"github.com/earth-harvest/checkout-api/internal/services"
)

// Services bundles the service-layer contracts the HTTP surface relies on.
type Services struct {
	Sessions       services.SessionService
	Checkout       services.CheckoutService
	Reconciliation services.ReconciliationService
	System         services.SystemService
}

// Container assembles the runtime dependency graph from configuration:
// repositories, collaborator clients, payment initiators, services, and the
// HTTP router.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Services Services
	Router   http.Handler

	firestoreProvider *pfirestore.Provider
	pubsubClient      *pubsub.Client
	eventTopic        *pubsub.Topic
}

// NewContainer wires the application. Sessions always live in memory; the
// pending-order ledger uses Firestore when a project is configured and falls
// back to memory otherwise. Events are disabled without an events project.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	eventLog := observability.EventLogger(logger)

	sessionRepo := memory.NewSessionRepository()

	var pendingOrders repositories.PendingOrderRepository
	if cfg.Firestore.ProjectID != "" {
		c.firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		repo, err := fsrepo.NewPendingOrderRepository(c.firestoreProvider)
		if err != nil {
			return nil, fmt.Errorf("build pending order repository: %w", err)
		}
		pendingOrders = repo
	} else {
		pendingOrders = memory.NewPendingOrderRepository()
	}

	var publisher services.EventPublisher
	if cfg.Events.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.pubsubClient = client
		c.eventTopic = client.Topic(cfg.Events.Topic)
		pub, err := jobs.NewPubSubEventPublisher(c.eventTopic)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("build event publisher: %w", err)
		}
		publisher = pub
	}

	ordersClient, err := orders.NewClient(orders.Config{
		BaseURL:   cfg.Orders.BaseURL,
		AuthToken: cfg.Orders.AuthToken,
		Timeout:   cfg.Orders.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build orders client: %w", err)
	}

	initiator, testInitiator, err := buildInitiators(cfg, eventLog)
	if err != nil {
		return nil, err
	}

	sessionSvc, err := services.NewSessionService(services.SessionServiceDeps{
		Sessions: sessionRepo,
		Logger:   eventLog,
		TTL:      cfg.Checkout.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("build session service: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Sessions:      sessionRepo,
		PendingOrders: pendingOrders,
		Orders:        ordersClient,
		Initiator:     initiator,
		TestInitiator: testInitiator,
		Publisher:     publisher,
		Currency:      cfg.Payments.Currency,
		Logger:        eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	reconcileSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		PendingOrders:         pendingOrders,
		Orders:                ordersClient,
		Publisher:             publisher,
		PendingPaymentTimeout: cfg.Checkout.PendingPaymentTimeout,
		BatchSize:             cfg.Checkout.ReconcileBatchSize,
		Logger:                eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build reconciliation service: %w", err)
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(c.dependencyChecks(ordersClient))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		Health: healthRepo,
		Logger: eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	c.Services = Services{
		Sessions:       sessionSvc,
		Checkout:       checkoutSvc,
		Reconciliation: reconcileSvc,
		System:         systemSvc,
	}

	verifier, err := auth.NewVerifier(cfg.Security.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("build token verifier: %w", err)
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(sessionSvc, checkoutSvc, testInitiator != nil)
	c.Router = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.RecoveryMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(systemSvc)),
		handlers.WithCheckoutMiddlewares(verifier.RequireBearer()),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)

	return c, nil
}

func buildInitiators(cfg config.Config, eventLog payments.Logger) (payments.Initiator, payments.Initiator, error) {
	var testInitiator payments.Initiator
	if cfg.Payments.TestConfirmationURL != "" {
		ti, err := payments.NewTestInitiator(cfg.Payments.TestConfirmationURL, eventLog, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("build test initiator: %w", err)
		}
		testInitiator = ti
	}

	switch cfg.Payments.Mode {
	case "stripe":
		initiator, err := payments.NewStripeInitiator(payments.StripeInitiatorConfig{
			APIKey:     cfg.PSP.StripeAPIKey,
			SuccessURL: cfg.PSP.SuccessURL,
			CancelURL:  cfg.PSP.CancelURL,
			Logger:     eventLog,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build stripe initiator: %w", err)
		}
		return initiator, testInitiator, nil
	case "test":
		if testInitiator == nil {
			return nil, nil, errors.New("payments mode test requires a confirmation url")
		}
		return testInitiator, testInitiator, nil
	default:
		return nil, nil, fmt.Errorf("unsupported payments mode %q", cfg.Payments.Mode)
	}
}

// dependencyChecks probes the collaborators readiness cares about. Memory
// stores are not probed.
func (c *Container) dependencyChecks(ordersClient *orders.Client) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{
		{
			Name:    "orders",
			Timeout: 2 * time.Second,
			Check:   ordersClient.Ping,
		},
	}

	if c.firestoreProvider != nil {
		provider := c.firestoreProvider
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		})
	}

	if c.eventTopic != nil {
		topic := c.eventTopic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	return checks
}

// Close releases infrastructure clients. Safe to call on a nil container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.eventTopic != nil {
		c.eventTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(ctx); err != nil && !errors.Is(err, pfirestore.ErrProviderClosed) {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
