package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/logger"
	"packmarket/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type AdminOps interface {
	GetStats(ctx context.Context) (*service.Stats, error)
	GetUser(ctx context.Context, identifier string) (*service.UserInfo, error)
	AddUserGems(ctx context.Context, userID, amount, adminTgID int64) (int64, error)
	RecentAudit(ctx context.Context, limit int) ([]*domain.AuditLog, error)
}

type PackOps interface {
	ListLive(ctx context.Context, limit int) ([]domain.PackSummary, error)
	AdminArchive(ctx context.Context, packID int64) (*domain.CreatorPack, error)
}

type PurchaseOps interface {
	ListPending(ctx context.Context, limit int) ([]*domain.PackPurchase, error)
	Reconcile(ctx context.Context, purchaseID string) (*domain.PackPurchase, error)
	ReconcilePending(ctx context.Context, limit int) (completed, failed int, err error)
}

type SeasonOps interface {
	Info(ctx context.Context) (domain.SeasonSummary, error)
	Leaderboard(ctx context.Context, seasonID int64, topN int) ([]domain.LeaderboardEntry, error)
	ForceEnd(ctx context.Context) (*domain.Season, error)
}

// Deps are the services the bot operates on
type Deps struct {
	Admin     AdminOps
	Packs     PackOps
	Purchases PurchaseOps
	Seasons   SeasonOps
}

// AdminBot handles admin commands via Telegram
type AdminBot struct {
	bot      *tgbotapi.BotAPI
	deps     Deps
	mu       sync.RWMutex
	adminIDs []int64 // Telegram user IDs who can use admin commands
	stopCh   chan struct{}
	wg       sync.WaitGroup
	log      *slog.Logger
}

// NewAdminBot creates a new admin bot
func NewAdminBot(token string, deps Deps, adminIDs []int64) (*AdminBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	b := newAdminBot(deps, adminIDs)
	b.bot = bot
	b.log.Info("admin bot authorized", "username", bot.Self.UserName)
	return b, nil
}

func newAdminBot(deps Deps, adminIDs []int64) *AdminBot {
	return &AdminBot{
		deps:     deps,
		adminIDs: append([]int64(nil), adminIDs...),
		stopCh:   make(chan struct{}),
		log:      logger.With("component", "admin_bot"),
	}
}

// Start starts listening for commands
func (b *AdminBot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.bot.GetUpdatesChan(u)
	b.log.Info("starting bot update loop")

	for {
		select {
		case <-b.stopCh:
			b.log.Info("stopping bot update loop")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}

			if update.Message == nil || update.Message.From == nil || !update.Message.IsCommand() {
				continue
			}

			// Check if user is admin
			if !b.isAdmin(update.Message.From.ID) {
				continue
			}

			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleCommand(msg)
			}(update.Message)
		}
	}
}

// Stop gracefully stops the bot
func (b *AdminBot) Stop() {
	b.log.Info("stopping admin bot...")
	close(b.stopCh)
	b.bot.StopReceivingUpdates()

	// Wait for pending handlers with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("admin bot stopped gracefully")
	case <-time.After(10 * time.Second):
		b.log.Warn("admin bot shutdown timeout, some handlers may not have completed")
	}
}

// isAdmin checks if user is an admin
func (b *AdminBot) isAdmin(userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range b.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// handleCommand processes admin commands
func (b *AdminBot) handleCommand(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response := b.dispatch(ctx, msg.From.ID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))

	reply := tgbotapi.NewMessage(msg.Chat.ID, response)
	reply.ParseMode = "HTML"
	reply.ReplyToMessageID = msg.MessageID

	if _, err := b.bot.Send(reply); err != nil {
		b.log.Error("error sending message", "error", err)
	}
}

func (b *AdminBot) dispatch(ctx context.Context, adminTgID int64, command, args string) string {
	switch command {
	case "start", "help":
		return b.helpMessage()
	case "stats":
		return b.handleStats(ctx)
	case "user":
		return b.handleUser(ctx, args)
	case "addgems":
		return b.handleAddGems(ctx, adminTgID, args)
	case "live":
		return b.handleLive(ctx, args)
	case "archive":
		return b.handleArchive(ctx, args)
	case "pending":
		return b.handlePending(ctx, args)
	case "reconcile":
		return b.handleReconcile(ctx, args)
	case "season":
		return b.handleSeason(ctx)
	case "endseason":
		return b.handleEndSeason(ctx, args)
	case "audit":
		return b.handleAudit(ctx, args)
	case "addadmin":
		return b.handleAddAdmin(args)
	}
	return "❌ Неизвестная команда. Используйте /help для списка команд."
}

func (b *AdminBot) helpMessage() string {
	return `<b>🤖 Команды администратора</b>

<b>📊 Статистика:</b>
/stats - Статистика маркетплейса
/season - Текущий сезон и топ-10

<b>👤 Пользователи:</b>
/user &lt;@username|tg_id&gt; - Информация о пользователе
/addgems &lt;user_id&gt; &lt;сумма&gt; - Добавить гемы

<b>📦 Паки:</b>
/live [лимит] - Опубликованные паки
/archive &lt;pack_id&gt; - Снять пак с витрины

<b>🧾 Покупки:</b>
/pending [лимит] - Покупки, ожидающие сверки
/reconcile &lt;purchase_id|all&gt; - Довести покупку до конца

<b>🏁 Сезон:</b>
/endseason confirm - Завершить сезон и начать следующий

<b>📜 Журнал:</b>
/audit [лимит] - Последние записи аудита

<b>🔐 Управление админами:</b>
/addadmin &lt;tg_id&gt; - Добавить админа`
}

func (b *AdminBot) handleStats(ctx context.Context) string {
	stats, err := b.deps.Admin.GetStats(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}

	return fmt.Sprintf(`<b>📊 Статистика маркетплейса</b>

<b>👥 Пользователи:</b>
• Всего: %d
• Новых сегодня: %d

<b>📦 Паки:</b>
• На витрине: %d
• Черновиков: %d

<b>🧾 Покупки:</b>
• Сегодня: %d
• Всего: %d
• Выручка сегодня: %d 💎
• Ожидают сверки: %d

<b>🃏 Карты и сезон:</b>
• Выпущено карт: %d
• Игроков в сезоне: %d
• 💎 Гемов в обороте: %d`,
		stats.TotalUsers,
		stats.NewUsersToday,
		stats.LivePacks,
		stats.DraftPacks,
		stats.PurchasesToday,
		stats.PurchasesTotal,
		stats.RevenueToday,
		stats.PendingPurchases,
		stats.CardsMinted,
		stats.SeasonPlayers,
		stats.TotalGems,
	)
}

func (b *AdminBot) handleUser(ctx context.Context, args string) string {
	if args == "" {
		return "❌ Использование: /user <@username|tg_id>"
	}

	user, err := b.deps.Admin.GetUser(ctx, strings.TrimPrefix(args, "@"))
	if err != nil {
		return fmt.Sprintf("❌ Пользователь не найден: %v", err)
	}

	return fmt.Sprintf(`<b>👤 Информация о пользователе</b>

• ID: %d
• Telegram ID: %d
• Username: @%s
• Имя: %s
• 💎 Гемы: %d
• 📦 Паков создано: %d
• 🧾 Покупок: %d
• 🃏 Карт: %d
• 📅 Регистрация: %s`,
		user.ID,
		user.TgID,
		html.EscapeString(user.Username),
		html.EscapeString(user.FirstName),
		user.Gems,
		user.PacksCreated,
		user.Purchases,
		user.Cards,
		user.CreatedAt.Format("02.01.2006 15:04"),
	)
}

func (b *AdminBot) handleAddGems(ctx context.Context, adminTgID int64, args string) string {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "❌ Использование: /addgems <user_id> <сумма>"
	}

	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "❌ Неверный ID пользователя"
	}

	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || amount <= 0 {
		return "❌ Неверная сумма"
	}

	newBalance, err := b.deps.Admin.AddUserGems(ctx, userID, amount, adminTgID)
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}

	return fmt.Sprintf("✅ Добавлено %d гемов пользователю %d. Новый баланс: %d 💎", amount, userID, newBalance)
}

func parseLimit(args string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (b *AdminBot) handleLive(ctx context.Context, args string) string {
	packs, err := b.deps.Packs.ListLive(ctx, parseLimit(args, 10, 50))
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}
	if len(packs) == 0 {
		return "📦 Нет опубликованных паков"
	}

	var sb strings.Builder
	sb.WriteString("<b>📦 Паки на витрине</b>\n\n")
	for _, p := range packs {
		fmt.Fprintf(&sb, "• #%d <b>%s</b> (%s, %d карт) - %d 💎, автор %d\n",
			p.ID, html.EscapeString(p.Title), p.Tier, p.CardCount, p.Price, p.CreatorID)
	}
	return sb.String()
}

func (b *AdminBot) handleArchive(ctx context.Context, args string) string {
	packID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return "❌ Использование: /archive <pack_id>"
	}

	p, err := b.deps.Packs.AdminArchive(ctx, packID)
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}
	b.log.Info("pack archived by admin", "pack_id", packID)
	return fmt.Sprintf("✅ Пак #%d снят с витрины", p.ID)
}

func (b *AdminBot) handlePending(ctx context.Context, args string) string {
	pending, err := b.deps.Purchases.ListPending(ctx, parseLimit(args, 10, 50))
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}
	if len(pending) == 0 {
		return "✅ Нет покупок, ожидающих сверки"
	}

	var sb strings.Builder
	sb.WriteString("<b>🧾 Ожидают сверки</b>\n\n")
	for _, p := range pending {
		stage := "-"
		if p.FailureStage != nil {
			stage = string(*p.FailureStage)
		}
		fmt.Fprintf(&sb, "• <code>%s</code> пак #%d, покупатель %d, этап %s, попыток %d\n  %s\n",
			p.ID, p.PackID, p.BuyerID, stage, p.Attempts, html.EscapeString(p.LastError))
	}
	return sb.String()
}

func (b *AdminBot) handleReconcile(ctx context.Context, args string) string {
	switch args {
	case "":
		return "❌ Использование: /reconcile <purchase_id|all>"
	case "all":
		completed, failed, err := b.deps.Purchases.ReconcilePending(ctx, 100)
		if err != nil {
			return fmt.Sprintf("❌ Ошибка: %v", err)
		}
		return fmt.Sprintf("✅ Сверка: завершено %d, с ошибкой %d", completed, failed)
	}

	p, err := b.deps.Purchases.Reconcile(ctx, args)
	if err != nil {
		var perr *service.PartialPurchaseError
		if errors.As(err, &perr) {
			return fmt.Sprintf("⚠️ Покупка %s всё ещё ожидает (этап %s): %v", args, perr.Stage, perr.Err)
		}
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}
	return fmt.Sprintf("✅ Покупка %s завершена, карт: %d", p.ID, len(p.MintedCardIDs))
}

func (b *AdminBot) handleAudit(ctx context.Context, args string) string {
	logs, err := b.deps.Admin.RecentAudit(ctx, parseLimit(args, 15, 50))
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}
	if len(logs) == 0 {
		return "📜 Журнал пуст"
	}

	var sb strings.Builder
	sb.WriteString("<b>📜 Аудит</b>\n\n")
	for _, l := range logs {
		fmt.Fprintf(&sb, "• %s [%s] %s, user %d\n",
			l.CreatedAt.Format("02.01 15:04"), l.Category, html.EscapeString(l.Action), l.UserID)
	}
	return sb.String()
}

func (b *AdminBot) handleSeason(ctx context.Context) string {
	info, err := b.deps.Seasons.Info(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}
	top, err := b.deps.Seasons.Leaderboard(ctx, info.ID, 10)
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>🏁 Сезон #%d «%s»</b>\n", info.ID, html.EscapeString(info.Theme))
	fmt.Fprintf(&sb, "%s - %s, осталось дней: %d\n\n",
		info.StartAt.Format("02.01.2006"), info.EndAt.Format("02.01.2006"), info.DaysRemaining)
	if len(top) == 0 {
		sb.WriteString("Пока никто не набрал опыт")
		return sb.String()
	}
	sb.WriteString("<b>🏆 Топ-10:</b>\n")
	for _, e := range top {
		fmt.Fprintf(&sb, "%d. игрок %d - %d XP (ур. %d, %s)\n", e.Position, e.PlayerID, e.XP, e.Level, e.Rank)
	}
	return sb.String()
}

func (b *AdminBot) handleEndSeason(ctx context.Context, args string) string {
	if args != "confirm" {
		return "⚠️ Сезон будет закрыт, лидерборд заморожен. Подтвердите: /endseason confirm"
	}
	next, err := b.deps.Seasons.ForceEnd(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Ошибка: %v", err)
	}
	b.log.Info("season ended by admin", "next_season_id", next.ID)
	return fmt.Sprintf("✅ Сезон завершён. Начат сезон #%d «%s»", next.ID, html.EscapeString(next.Theme))
}

func (b *AdminBot) handleAddAdmin(args string) string {
	tgID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return "❌ Использование: /addadmin <tg_id>"
	}

	if b.isAdmin(tgID) {
		return "⚠️ Пользователь уже админ"
	}

	b.mu.Lock()
	b.adminIDs = append(b.adminIDs, tgID)
	b.mu.Unlock()
	b.log.Info("added new admin", "tg_id", tgID)

	return fmt.Sprintf("✅ Добавлен админ %d\n\n⚠️ Это временно до перезапуска. Добавьте в ADMIN_TELEGRAM_IDS для постоянного доступа.", tgID)
}

// SendNotification sends a notification to a specific chat
func (b *AdminBot) SendNotification(tgID int64, message string) error {
	msg := tgbotapi.NewMessage(tgID, message)
	msg.ParseMode = "HTML"
	_, err := b.bot.Send(msg)
	return err
}

// Notify alerts admins about purchases that need reconciliation. Other
// events are ignored.
func (b *AdminBot) Notify(_ int64, event string, payload interface{}) {
	if event != "purchase_pending" {
		return
	}
	p, ok := payload.(*domain.PackPurchase)
	if !ok {
		return
	}
	text := pendingAlert(p)

	b.mu.RLock()
	ids := append([]int64(nil), b.adminIDs...)
	b.mu.RUnlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, id := range ids {
			if err := b.SendNotification(id, text); err != nil {
				b.log.Error("failed to notify admin", "admin_tg_id", id, "error", err)
			}
		}
	}()
}

func pendingAlert(p *domain.PackPurchase) string {
	stage := "-"
	if p.FailureStage != nil {
		stage = string(*p.FailureStage)
	}
	return fmt.Sprintf(`<b>⚠️ Покупка ожидает сверки</b>

• ID: <code>%s</code>
• Пак: #%d
• Покупатель: %d
• Сумма: %d 💎
• Этап: %s
• Ошибка: %s

/reconcile %s`,
		p.ID, p.PackID, p.BuyerID, p.AmountCharged, stage, html.EscapeString(p.LastError), p.ID)
}
