package container

import (
	"ledgerwork-backend/auth"
	"ledgerwork-backend/handlers"
	"ledgerwork-backend/ratelimit"
	"ledgerwork-backend/services"
	storage "ledgerwork-backend/storage/marketplace"
)

// Deps are the externally constructed dependencies the container wires.
type Deps struct {
	Store   storage.Store
	Escrow  handlers.EscrowFacade
	Health  services.BalanceReader
	Limiter *ratelimit.Limiter
	Keys    auth.APIKeyValidator
	Issuer  auth.APIKeyIssuer
	Sink    handlers.VerificationSink
}

// Container holds all application dependencies
type Container struct {
	// Services
	QRCodeService *services.QRCodeService
	HealthService *services.HealthService

	// Handlers
	HealthHandler     *handlers.HealthHandler
	QRCodeHandler     *handlers.QRCodeHandler
	RateLimitHandler  *handlers.RateLimitHandler
	APIKeyHandler     *handlers.APIKeyHandler
	TaskHandler       *handlers.TaskHandler
	SubmissionHandler *handlers.SubmissionHandler
	PaymentHandler    *handlers.PaymentHandler
}

// NewContainer creates a new dependency container
func NewContainer(d Deps) *Container {
	// Initialize services
	qrService := services.NewQRCodeService()
	healthService := services.NewHealthService(d.Store, d.Health)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(healthService)
	qrHandler := handlers.NewQRCodeHandler(qrService)
	rateLimitHandler := handlers.NewRateLimitHandler(d.Limiter)
	apiKeyHandler := handlers.NewAPIKeyHandler(d.Issuer, d.Keys)
	taskHandler := handlers.NewTaskHandler(d.Store, d.Escrow)
	submissionHandler := handlers.NewSubmissionHandler(d.Store, d.Sink)
	paymentHandler := handlers.NewPaymentHandler(d.Store)

	return &Container{
		// Services
		QRCodeService: qrService,
		HealthService: healthService,

		// Handlers
		HealthHandler:     healthHandler,
		QRCodeHandler:     qrHandler,
		RateLimitHandler:  rateLimitHandler,
		APIKeyHandler:     apiKeyHandler,
		TaskHandler:       taskHandler,
		SubmissionHandler: submissionHandler,
		PaymentHandler:    paymentHandler,
	}
}
