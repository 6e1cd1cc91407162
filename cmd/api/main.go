package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusprint/platform/internal/handlers"
	"github.com/campusprint/platform/internal/mailer"
	"github.com/campusprint/platform/internal/oauth"
	"github.com/campusprint/platform/internal/repository"
	"github.com/campusprint/platform/internal/service"
	"github.com/campusprint/platform/internal/sms"
	"github.com/campusprint/platform/pkg/config"
	"github.com/campusprint/platform/pkg/database"
	"github.com/campusprint/platform/pkg/events"
	"github.com/campusprint/platform/pkg/logger"
	mw "github.com/campusprint/platform/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	// Connect to database
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to Redis for ceremony state
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(pool)
	otpRepo := repository.NewOtpRepository(pool)
	refreshRepo := repository.NewRefreshTokenRepository(pool)
	passkeyRepo := repository.NewPasskeyRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	ceremonies := repository.NewCeremonyStore(redisClient)

	// Initialize delivery channels
	mailerSvc := buildMailer(cfg)
	smsSender := buildSMSSender(cfg)
	googleVerifier := oauth.NewTokenInfoVerifier(cfg.Google.ClientID)

	// Initialize services
	otpManager := service.NewOtpManager(otpRepo, smsSender, mailerSvc, cfg)
	tokenService := service.NewTokenService(refreshRepo, userRepo, cfg)
	accountService := service.NewAccountService(userRepo, otpManager, tokenService, googleVerifier, eventBus, cfg)
	registrationService := service.NewRegistrationService(regRepo, userRepo, otpManager, tokenService, mailerSvc, eventBus, cfg)
	passkeyService, err := service.NewPasskeyService(passkeyRepo, userRepo, ceremonies, tokenService, eventBus, cfg)
	if err != nil {
		logger.Error("Failed to initialize passkey service", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	h := handlers.New(accountService, tokenService, passkeyService, registrationService, cfg)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Server.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)

	// Routes
	r.Route("/v1/auth", func(r chi.Router) {
		// Phone OTP
		r.Post("/phone/initiate", h.InitiatePhoneOTP)
		r.Post("/phone/verify", h.VerifyPhoneOTP)
		r.Post("/phone/signup", h.PhoneSignup)
		r.Post("/phone/password/signup", h.PasswordSignup)
		r.Post("/phone/password/login", h.PasswordLogin)

		// Email OTP
		r.Post("/email/initiate", h.InitiateEmailOTP)
		r.Post("/email/verify", h.VerifyEmailOTP)
		r.Post("/email/password/signup", h.PasswordSignup)
		r.Post("/email/password/login", h.PasswordLogin)

		// Google
		r.Post("/google", h.GoogleSignIn)

		// Sessions
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		// Passkeys
		r.Post("/passkey/login/options", h.PasskeyLoginOptions)
		r.Post("/passkey/login/verify", h.PasskeyLoginVerify)

		// Partner registration and login
		r.Route("/partner", func(r chi.Router) {
			r.Post("/login", h.PartnerLogin)
			r.Post("/register", h.PartnerRegisterInitiate)
			r.Post("/register/initiate", h.PartnerRegisterInitiate)
			r.Post("/register/verify-otp", h.PartnerRegisterVerifyOTP)
			r.Post("/register/verify-email", h.PartnerRegisterVerifyEmail)
			r.Get("/register/verify-email", h.PartnerRegisterVerifyEmail)
			r.Post("/register/resend-otp", h.PartnerRegisterResendOTP)
		})

		// Authenticated account management
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Post("/google/link", h.GoogleLink)
			r.Put("/me/otp", h.UpdateOTPSettings)
			r.Post("/set-password", h.SetPassword)
			r.Get("/backup-codes", h.BackupCodeStatus)
			r.Post("/backup-codes", h.RegenerateBackupCodes)
			r.Post("/passkey/register/options", h.PasskeyRegisterOptions)
			r.Post("/passkey/register/verify", h.PasskeyRegisterVerify)
			r.Get("/passkey/list", h.ListPasskeys)
			r.Delete("/passkey/{id}", h.RemovePasskey)
		})
	})

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down identity service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Identity service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting identity service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Identity service error", "error", err)
		os.Exit(1)
	}
}

func buildMailer(cfg *config.Config) mailer.Service {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	case cfg.Email.SMTPHost != "":
		return mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom, cfg.Email.SMTPUser, cfg.Email.SMTPPass)
	default:
		return mailer.NewDevMailer()
	}
}

func buildSMSSender(cfg *config.Config) sms.Sender {
	if cfg.SMS.DevMode || cfg.SMS.GatewayURL == "" {
		return sms.NewDevSender()
	}
	return sms.NewGatewaySender(cfg.SMS.GatewayURL, cfg.SMS.APIKey, cfg.SMS.SenderID)
}
