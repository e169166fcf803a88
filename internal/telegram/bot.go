package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dreamwire/TGMediaBot/internal/config"
	"github.com/dreamwire/TGMediaBot/internal/models"
	"github.com/dreamwire/TGMediaBot/internal/orchestrator"
	"github.com/dreamwire/TGMediaBot/internal/provider"
	"github.com/dreamwire/TGMediaBot/internal/quota"
	"github.com/dreamwire/TGMediaBot/internal/redeem"
	"github.com/dreamwire/TGMediaBot/internal/service"
)

var errReferenceNotImage = errors.New("reference not image")

// MediaStorage persists user reference images and finished artifacts to
// object storage and hands back a public URL.
type MediaStorage interface {
	UploadReference(ctx context.Context, data []byte, contentType string) (string, error)
	UploadArtifact(ctx context.Context, data []byte, contentType string) (string, error)
}

var aspectRatios = []string{"16:9", "9:16", "1:1"}

// durations offered for the text-to-video modes, in seconds.
var durations = []int{5, 8, 10}

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	generation *service.GenerationService
	redeemer   *redeem.Engine
	storage    MediaStorage
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, generation *service.GenerationService, redeemer *redeem.Engine, storage MediaStorage) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		generation: generation,
		redeemer:   redeemer,
		storage:    storage,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleReferenceImage(ctx, msg); err != nil {
			if errors.Is(err, errReferenceNotImage) {
				b.sendText(msg.Chat.ID, "That is not an image. Please send a photo or picture.")
			} else {
				b.log.Error("reference upload failed", "err", err)
				b.sendText(msg.Chat.ID, "Could not save the image, please try again.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Get(msg.Chat.ID)
	switch session.Step {
	case StepAwaitingPrompt:
		b.handlePrompt(ctx, msg, session)
	case StepAwaitingImage:
		b.sendText(msg.Chat.ID, "This mode needs a source image first. Send a photo, then your prompt.")
	case StepSubmitting:
		b.sendText(msg.Chat.ID, "Your previous request is still being generated. Please wait for it to finish.")
	default:
		b.sendText(msg.Chat.ID, "Send /generate to pick a mode, or /help for the full command list.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendText(msg.Chat.ID, fmt.Sprintf(
			"Hi! I turn prompts into videos and images.\n\n"+
				"Free tier: %d generations per day. Plans lift the limit, see /plans.\n\n"+
				"Send /generate to pick a mode, or jump straight in:\n"+
				"/sora — text to video (Sora 2)\n"+
				"/hailuo — text to video (Hailuo)\n"+
				"/video — animate a photo (Higgsfield)\n"+
				"/nano — text to image (Nano Banana Pro)\n"+
				"/edit — edit a photo with a prompt",
			b.cfg.FreeDailyLimit,
		))
	case "help":
		b.sendText(msg.Chat.ID,
			"Commands:\n"+
				"/generate — choose a generation mode\n"+
				"/sora, /hailuo, /video, /nano, /edit — start a specific mode\n"+
				"/quota — your usage today\n"+
				"/plans — available plans\n"+
				"/redeem KEY — activate a plan key\n"+
				"/status — check your last job\n"+
				"/cancel — abandon the current dialogue")
	case "generate":
		b.promptModeSelection(msg.Chat.ID)
	case "sora":
		b.startMode(ctx, msg, models.ModeSora)
	case "hailuo":
		b.startMode(ctx, msg, models.ModeHailuo)
	case "video":
		b.startMode(ctx, msg, models.ModeVideo)
	case "nano":
		b.startMode(ctx, msg, models.ModeNano)
	case "edit":
		b.startMode(ctx, msg, models.ModeEdit)
	case "redeem":
		b.handleRedeem(ctx, msg)
	case "quota":
		b.handleQuota(ctx, msg)
	case "plans":
		b.sendText(msg.Chat.ID, plansText())
	case "status":
		b.handleStatus(ctx, msg)
	case "cancel":
		b.state.Reset(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "Okay, cancelled. Send /generate to start over.")
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Send /help for the list.")
	}
}

func (b *Bot) promptModeSelection(chatID int64) {
	modes := b.generation.Modes()
	if len(modes) == 0 {
		b.sendText(chatID, "No generation providers are configured right now.")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(modes))
	for _, m := range modes {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(m.Title(), "mode:"+string(m)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, "What should I generate?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

// startMode enters a mode directly. Video modes get an aspect-ratio keyboard
// first; when the command already carries a prompt (for example
// "/sora a cat surfing") the dialogue is skipped entirely.
func (b *Bot) startMode(ctx context.Context, msg *tgbotapi.Message, mode models.Mode) {
	if !b.generation.Available(mode) {
		b.sendText(msg.Chat.ID, "This mode is not available right now.")
		return
	}

	b.state.Update(msg.Chat.ID, func(s *Session) {
		s.Mode = mode
		s.AspectRatio = ""
		s.Duration = 0
		s.ImageURL = ""
	})

	if prompt := strings.TrimSpace(msg.CommandArguments()); prompt != "" && !mode.RequiresImage() {
		b.state.Update(msg.Chat.ID, func(s *Session) { s.Step = StepAwaitingPrompt })
		promptMsg := *msg
		promptMsg.Text = prompt
		b.handlePrompt(ctx, &promptMsg, b.state.Get(msg.Chat.ID))
		return
	}

	b.enterModeDialogue(msg.Chat.ID, mode)
}

func (b *Bot) enterModeDialogue(chatID int64, mode models.Mode) {
	// Higgsfield derives framing from the source image and takes no
	// aspect-ratio parameter, so it skips the options step.
	if mode != models.ModeVideo {
		b.state.Update(chatID, func(s *Session) { s.Step = StepSelectingOptions })
		b.promptAspectRatio(chatID)
		return
	}
	b.advancePastOptions(chatID, mode)
}

func (b *Bot) promptAspectRatio(chatID int64) {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(aspectRatios))
	for _, ar := range aspectRatios {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(ar, "ar:"+ar))
	}
	msg := tgbotapi.NewMessage(chatID, "Pick an aspect ratio:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) promptDuration(chatID int64) {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(durations))
	for _, d := range durations {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%ds", d), fmt.Sprintf("dur:%d", d)))
	}
	msg := tgbotapi.NewMessage(chatID, "Pick a clip length:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) advancePastOptions(chatID int64, mode models.Mode) {
	if mode.RequiresImage() {
		b.state.Update(chatID, func(s *Session) { s.Step = StepAwaitingImage })
		b.sendText(chatID, "Send me the source image.")
		return
	}
	b.state.Update(chatID, func(s *Session) { s.Step = StepAwaitingPrompt })
	b.sendText(chatID, "Now send me your prompt.")
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	switch {
	case strings.HasPrefix(cb.Data, "mode:"):
		mode := models.Mode(strings.TrimPrefix(cb.Data, "mode:"))
		if !b.generation.Available(mode) {
			b.ackCallback(cb.ID, "Not available")
			return
		}
		b.state.Update(chatID, func(s *Session) {
			s.Mode = mode
			s.AspectRatio = ""
			s.Duration = 0
			s.ImageURL = ""
		})
		b.ackCallback(cb.ID, mode.Title())
		b.enterModeDialogue(chatID, mode)

	case strings.HasPrefix(cb.Data, "ar:"):
		ar := strings.TrimPrefix(cb.Data, "ar:")
		if !validAspectRatio(ar) {
			b.ackCallback(cb.ID, "Unknown choice")
			return
		}
		b.state.Update(chatID, func(s *Session) { s.AspectRatio = ar })
		b.ackCallback(cb.ID, ar)
		mode := b.state.Get(chatID).Mode
		if supportsDuration(mode) {
			b.promptDuration(chatID)
			return
		}
		b.advancePastOptions(chatID, mode)

	case strings.HasPrefix(cb.Data, "dur:"):
		dur, err := strconv.Atoi(strings.TrimPrefix(cb.Data, "dur:"))
		if err != nil || !validDuration(dur) {
			b.ackCallback(cb.ID, "Unknown choice")
			return
		}
		b.state.Update(chatID, func(s *Session) { s.Duration = dur })
		b.ackCallback(cb.ID, fmt.Sprintf("%ds", dur))
		b.advancePastOptions(chatID, b.state.Get(chatID).Mode)

	default:
		b.ackCallback(cb.ID, "Unknown choice")
	}
}

func (b *Bot) handlePrompt(ctx context.Context, msg *tgbotapi.Message, session Session) {
	if session.Mode == "" {
		b.sendText(msg.Chat.ID, "Pick a mode first with /generate.")
		return
	}
	prompt := strings.TrimSpace(msg.Text)
	if prompt == "" {
		b.sendText(msg.Chat.ID, "The prompt cannot be empty.")
		return
	}
	if session.Mode.RequiresImage() && session.ImageURL == "" {
		b.state.Update(msg.Chat.ID, func(s *Session) { s.Step = StepAwaitingImage })
		b.sendText(msg.Chat.ID, "This mode needs a source image first. Send a photo, then your prompt.")
		return
	}

	if !b.state.BeginSubmit(msg.Chat.ID) {
		b.sendText(msg.Chat.ID, "Your previous request is still being generated. Please wait for it to finish.")
		return
	}

	payload := provider.Payload{
		Prompt:      prompt,
		ImageURL:    session.ImageURL,
		AspectRatio: session.AspectRatio,
		Duration:    session.Duration,
	}

	b.sendText(msg.Chat.ID, "Generation started. This can take a few minutes, I will send the result as soon as it is ready.")

	// Jobs run for minutes; keep the update loop free.
	go b.runGeneration(ctx, msg.Chat.ID, session.Mode, payload)
}

func (b *Bot) runGeneration(ctx context.Context, chatID int64, mode models.Mode, payload provider.Payload) {
	result, err := b.generation.Generate(ctx, chatID, mode, payload)
	if err != nil {
		b.state.FinishSubmit(chatID, mode, "")
		b.reportGenerationError(chatID, err)
		return
	}

	b.state.FinishSubmit(chatID, mode, result.JobID)

	switch result.Status {
	case orchestrator.StatusCompleted:
		b.archiveArtifact(ctx, mode, result)
		b.deliverArtifact(chatID, mode, result)
	case orchestrator.StatusRejected:
		detail := result.Detail
		if detail == "" {
			detail = "the provider declined the request"
		}
		b.sendText(chatID, "The provider rejected this request: "+detail+"\nA rejected request does not count against your quota.")
	case orchestrator.StatusTimedOut:
		b.sendText(chatID, "The job is taking longer than expected and is probably still processing. Try /status in a little while. It has not been charged to your quota.")
	}
}

func (b *Bot) reportGenerationError(chatID int64, err error) {
	var quotaErr *service.QuotaExceededError
	var shapeErr *orchestrator.ResultShapeError

	switch {
	case errors.As(err, &quotaErr):
		b.sendText(chatID, quotaDeniedText(quotaErr.Decision))
	case errors.As(err, &shapeErr):
		b.log.Error("completed job without artifact link", "err", err)
		b.sendText(chatID, "The generation finished but the result could not be retrieved. It has not been charged to your quota. Please try again.")
	case errors.Is(err, service.ErrModeUnavailable):
		b.sendText(chatID, "This mode is not available right now.")
	default:
		b.log.Error("generate", "err", err)
		b.sendText(chatID, "Could not run the generation, please try again later.")
	}
}

// archiveArtifact copies downloaded artifact bytes to object storage so the
// result outlives the provider's short-lived link. Best effort: a failed
// upload only loses the durable copy, delivery still proceeds.
func (b *Bot) archiveArtifact(ctx context.Context, mode models.Mode, result *orchestrator.Result) {
	if b.storage == nil || len(result.Bytes) == 0 {
		return
	}
	contentType := "image/png"
	if mode.ProducesVideo() {
		contentType = "video/mp4"
	}
	url, err := b.storage.UploadArtifact(ctx, result.Bytes, contentType)
	if err != nil {
		b.log.Warn("artifact archive failed", "job_id", result.JobID, "err", err)
		return
	}
	b.log.Info("artifact archived", "job_id", result.JobID, "url", url)
	if result.ResultURL == "" {
		result.ResultURL = url
	}
}

func (b *Bot) deliverArtifact(chatID int64, mode models.Mode, result *orchestrator.Result) {
	caption := mode.Title()

	if mode.ProducesVideo() {
		var cfg tgbotapi.VideoConfig
		switch {
		case len(result.Bytes) > 0:
			cfg = tgbotapi.NewVideo(chatID, tgbotapi.FileBytes{Name: "generation.mp4", Bytes: result.Bytes})
		case result.ResultURL != "":
			cfg = tgbotapi.NewVideo(chatID, tgbotapi.FileURL(result.ResultURL))
		default:
			b.sendText(chatID, "Could not retrieve the result.")
			return
		}
		cfg.Caption = caption
		if _, err := b.api.Send(cfg); err != nil {
			b.log.Error("send video", "err", err)
			b.sendText(chatID, "Here is your video: "+result.ResultURL)
		}
		return
	}

	var cfg tgbotapi.PhotoConfig
	switch {
	case len(result.Bytes) > 0:
		cfg = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "generation.png", Bytes: result.Bytes})
	case result.ResultURL != "":
		cfg = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(result.ResultURL))
	default:
		b.sendText(chatID, "Could not retrieve the result.")
		return
	}
	cfg.Caption = caption
	if _, err := b.api.Send(cfg); err != nil {
		b.log.Error("send photo", "err", err)
		b.sendText(chatID, "Here is your image: "+result.ResultURL)
	}
}

func (b *Bot) handleRedeem(ctx context.Context, msg *tgbotapi.Message) {
	token := strings.TrimSpace(msg.CommandArguments())
	if token == "" {
		b.sendText(msg.Chat.ID, "Usage: /redeem KEY")
		return
	}

	plan, err := b.redeemer.Redeem(ctx, token, msg.Chat.ID)
	if err != nil {
		switch {
		case errors.Is(err, redeem.ErrInvalidKey):
			b.sendText(msg.Chat.ID, "That key is not valid.")
		case errors.Is(err, redeem.ErrAlreadyUsed):
			b.sendText(msg.Chat.ID, "That key has already been used.")
		default:
			b.log.Error("redeem", "err", err)
			b.sendText(msg.Chat.ID, "Could not redeem the key, please try again later.")
		}
		return
	}

	if plan.Unlimited() {
		b.sendText(msg.Chat.ID, fmt.Sprintf("%s activated! You now have unlimited generations.", plan.Name))
	} else {
		b.sendText(msg.Chat.ID, fmt.Sprintf("%s activated! You now have %d generations per day for %d day(s).", plan.Name, plan.DailyLimit, plan.DurationDays))
	}
}

func (b *Bot) handleQuota(ctx context.Context, msg *tgbotapi.Message) {
	dec := b.generation.Quota(ctx, msg.Chat.ID)
	b.sendText(msg.Chat.ID, quotaStatusText(dec))
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	session := b.state.Get(msg.Chat.ID)

	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" && session.Step == StepSubmitting {
		b.sendText(msg.Chat.ID, "Your request is being generated right now.")
		return
	}

	mode, jobID, refusal := statusTarget(session, arg)
	if refusal != "" {
		b.sendText(msg.Chat.ID, refusal)
		return
	}

	out, err := b.generation.CheckStatus(ctx, mode, jobID)
	if err != nil {
		b.log.Warn("status check failed", "job_id", jobID, "err", err)
		b.sendText(msg.Chat.ID, "Could not check the job status right now.")
		return
	}

	switch out.Status {
	case provider.StatusCompleted:
		if out.ResultURL != "" {
			b.sendText(msg.Chat.ID, "Your job finished: "+out.ResultURL)
		} else {
			b.sendText(msg.Chat.ID, "Your job finished, but the result link is not available.")
		}
	case provider.StatusRejected:
		b.sendText(msg.Chat.ID, "The job was rejected: "+out.Detail)
	default:
		b.sendText(msg.Chat.ID, "The job is still processing.")
	}
}

func (b *Bot) handleReferenceImage(ctx context.Context, msg *tgbotapi.Message) error {
	session := b.state.Get(msg.Chat.ID)
	if session.Step != StepAwaitingImage {
		b.sendText(msg.Chat.ID, "I was not expecting an image. Send /generate and pick a mode that uses one.")
		return nil
	}

	var fileID string
	contentType := "image/jpeg"

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		fileID = photo.FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errReferenceNotImage
		}
		fileID = msg.Document.FileID
		if msg.Document.MimeType != "" {
			contentType = msg.Document.MimeType
		}
	default:
		return nil
	}

	data, detectedType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	if detectedType != "" {
		contentType = detectedType
	}

	if b.storage == nil {
		b.sendText(msg.Chat.ID, "Image uploads are not configured on this bot.")
		return nil
	}

	url, err := b.storage.UploadReference(ctx, data, contentType)
	if err != nil {
		return err
	}

	b.state.Update(msg.Chat.ID, func(s *Session) {
		s.ImageURL = url
		s.Step = StepAwaitingPrompt
	})

	b.sendText(msg.Chat.ID, "Got the image. Now send me your prompt.")
	return nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func (b *Bot) ackCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func quotaDeniedText(dec quota.Decision) string {
	if dec.Blocked {
		return "Generations currently require an active plan. See /plans and activate one with /redeem KEY."
	}
	return fmt.Sprintf(
		"You have used all %d of today's generations. The counter resets at midnight UTC.\nSee /plans for a higher limit, and /redeem KEY to activate a plan.",
		dec.Ceiling,
	)
}

func quotaStatusText(dec quota.Decision) string {
	if dec.Unlimited {
		if dec.Plan != "" {
			return fmt.Sprintf("Plan: %s\nGenerations: unlimited.", dec.Plan)
		}
		return "Generations: unlimited."
	}
	lines := []string{
		fmt.Sprintf("Used today: %d of %d", dec.Used, dec.Ceiling),
		fmt.Sprintf("Remaining: %d", dec.Remaining()),
	}
	if dec.Plan != "" {
		lines = append(lines, "Plan: "+string(dec.Plan))
	} else {
		lines = append(lines, "Tier: free. See /plans for more.")
	}
	return strings.Join(lines, "\n")
}

func plansText() string {
	var sb strings.Builder
	sb.WriteString("Available plans:\n\n")
	for _, p := range models.Plans {
		if p.Unlimited() {
			fmt.Fprintf(&sb, "%s — unlimited generations — $%d\n", p.Name, p.PriceUSD)
		} else {
			fmt.Fprintf(&sb, "%s — %d generations/day — $%d\n", p.Name, p.DailyLimit, p.PriceUSD)
		}
	}
	sb.WriteString("\nActivate a purchased key with /redeem KEY.")
	return sb.String()
}

func validAspectRatio(ar string) bool {
	for _, v := range aspectRatios {
		if v == ar {
			return true
		}
	}
	return false
}

func validDuration(d int) bool {
	for _, v := range durations {
		if v == d {
			return true
		}
	}
	return false
}

// statusTarget resolves which job a status request refers to and the mode
// whose provider must be asked. Only the last submitted job is routable:
// an explicit id is accepted when it matches, any other id is refused
// because its provider is unknown. The third return is the refusal text,
// empty when the request can be served.
func statusTarget(session Session, arg string) (models.Mode, string, string) {
	if arg != "" && arg != session.LastJobID {
		return "", "", "I can only check your most recent job. Send /status without an id."
	}
	jobID := arg
	if jobID == "" {
		jobID = session.LastJobID
	}
	if jobID == "" || session.LastJobMode == "" {
		return "", "", "No recent job to check. Send /generate to start one."
	}
	return session.LastJobMode, jobID, ""
}

// supportsDuration reports whether the mode's provider accepts a clip
// length. Higgsfield's job sets fix their own length.
func supportsDuration(mode models.Mode) bool {
	return mode == models.ModeSora || mode == models.ModeHailuo
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errReferenceNotImage
	}
}
