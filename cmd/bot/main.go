package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dreamwire/TGMediaBot/internal/admin"
	"github.com/dreamwire/TGMediaBot/internal/config"
	"github.com/dreamwire/TGMediaBot/internal/database"
	"github.com/dreamwire/TGMediaBot/internal/models"
	"github.com/dreamwire/TGMediaBot/internal/orchestrator"
	"github.com/dreamwire/TGMediaBot/internal/provider"
	"github.com/dreamwire/TGMediaBot/internal/quota"
	"github.com/dreamwire/TGMediaBot/internal/redeem"
	"github.com/dreamwire/TGMediaBot/internal/repository"
	"github.com/dreamwire/TGMediaBot/internal/service"
	"github.com/dreamwire/TGMediaBot/internal/storage"
	"github.com/dreamwire/TGMediaBot/internal/telegram"
	"github.com/dreamwire/TGMediaBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	entitlementRepo := repository.NewEntitlementRepository(db)
	keyRepo := repository.NewKeyRepository(db)

	notifyAdmin := func(msg string) {
		if cfg.AdminID == 0 {
			return
		}
		if _, err := botAPI.Send(tgbotapi.NewMessage(cfg.AdminID, msg)); err != nil {
			logr.Error("notify admin", "err", err)
		}
	}

	quotaEngine := quota.NewEngine(entitlementRepo, logr, cfg.AdminID, cfg.FreeDailyLimit,
		quota.WithStrictMode(cfg.BlockNonPremium),
		quota.WithNotifier(notifyAdmin),
	)
	redeemEngine := redeem.NewEngine(keyRepo, entitlementRepo, logr)

	adapters, policies := buildAdapters(cfg, logr)
	if len(adapters) == 0 {
		log.Fatalf("no provider adapters configured")
	}

	runner := orchestrator.NewRunner(logr)
	generationService := service.NewGenerationService(adapters, policies, quotaEngine, runner, logr)

	var mediaStore telegram.MediaStorage
	if cfg.S3Bucket != "" {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		mediaStore = uploader
	} else {
		logr.Warn("s3 storage not configured, image-based modes will refuse uploads")
	}

	bot := telegram.NewBot(cfg, botAPI, logr, generationService, redeemEngine, mediaStore)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, redeemEngine, keyRepo, entitlementRepo, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

// buildAdapters registers a provider for every mode whose credentials are
// present. Missing keys just leave the mode out of the menu.
func buildAdapters(cfg config.Config, logr *slog.Logger) (map[models.Mode]provider.Adapter, map[models.Mode]orchestrator.Policy) {
	adapters := make(map[models.Mode]provider.Adapter)
	policies := make(map[models.Mode]orchestrator.Policy)

	base := orchestrator.DefaultPolicy()
	base.PollCap = cfg.PollCap
	base.TotalTimeout = cfg.PollTotalTimeout

	videoPolicy := base
	imagePolicy := base
	// Image links from some providers expire quickly; fetch the bytes so the
	// user gets the file either way.
	imagePolicy.Download = true

	if cfg.ModelsLabKey != "" {
		adapters[models.ModeSora] = provider.NewModelsLab("modelslab-sora", cfg.ModelsLabEndpoint, cfg.ModelsLabKey, cfg.SoraModel, logr)
		policies[models.ModeSora] = videoPolicy

		adapters[models.ModeHailuo] = provider.NewModelsLab("modelslab-hailuo", cfg.ModelsLabEndpoint, cfg.ModelsLabKey, cfg.HailuoModel, logr)
		policies[models.ModeHailuo] = videoPolicy

		adapters[models.ModeEdit] = provider.NewModelsLab("modelslab-edit", cfg.ModelsLabEditURL, cfg.ModelsLabKey, cfg.ModelsLabEditModel, logr)
		policies[models.ModeEdit] = imagePolicy
	}

	if cfg.KIEAPIKey != "" {
		adapters[models.ModeNano] = provider.NewKIE(cfg.KIEBaseURL, cfg.KIEAPIKey, cfg.KIEModel, logr)
		policies[models.ModeNano] = imagePolicy
	}

	if cfg.HFKey != "" && cfg.HFSecret != "" {
		adapters[models.ModeVideo] = provider.NewHiggsfield(cfg.HFBaseURL, cfg.HFKey, cfg.HFSecret, cfg.HFModel, logr)
		policies[models.ModeVideo] = videoPolicy
	}

	return adapters, policies
}
