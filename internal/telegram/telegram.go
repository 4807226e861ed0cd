// Package telegram connects the bot to Telegram: every chat the bot is in
// is a group whose messages are stored and classified, chat commands are
// answered, and daily summaries are posted back.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/TobiSchelling/ubot/internal/config"
	"github.com/TobiSchelling/ubot/internal/database"
	"github.com/TobiSchelling/ubot/internal/pipeline"
	"github.com/TobiSchelling/ubot/internal/summarize"
)

// maxReply stays under Telegram's 4096 character message limit.
const maxReply = 4000

// defaultMaxInFlight bounds updates handled at once when the config leaves
// it unset.
const defaultMaxInFlight = 8

const helpText = `Commands:
/ask <question> - answer from the knowledge sources
/summary - summarize recent messages and post the summary
/count_answers [channel] - count meaningful answers in a channel
/count_messages [channel] - count messages in a channel`

// Bot is the part of the Telegram API the adapter uses.
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type botWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *botWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *botWrapper) StopReceivingUpdates() { w.bot.StopReceivingUpdates() }

func (w *botWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) { return w.bot.Send(c) }

func (w *botWrapper) GetSelf() tgbotapi.User { return w.bot.Self }

// BotFactory creates bots; tests replace it.
type BotFactory func(token, apiEndpoint string, client *http.Client) (Bot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (Bot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &botWrapper{bot: bot}, nil
}

// Handler is what the adapter delivers messages and commands to.
type Handler interface {
	HandleMessage(ctx context.Context, in pipeline.Incoming) (*pipeline.HandleResult, error)
	Ask(ctx context.Context, groupID, question string) string
	Summarize(ctx context.Context, groupID string, since time.Time, trigger string) (*database.SummaryRecord, error)
	CountAnswers(ctx context.Context, groupID, channel string) (int, error)
	CountMessages(groupID, channel string) (int, error)
	IsIgnoredUser(author string) bool
}

// Adapter is the Telegram connection.
type Adapter struct {
	token        string
	proxy        string
	summaryChat  int64
	countDefault string
	factory      BotFactory

	bot     Bot
	handler Handler
	cancel  context.CancelFunc

	// inFlight bounds concurrently handled updates; a slow /ask holds one
	// slot while the rest of the chat keeps flowing.
	inFlight *semaphore.Weighted
	wg       sync.WaitGroup
}

// New creates an adapter. countDefault is the channel the counting
// commands use when none is given.
func New(cfg config.Telegram, countDefault string) (*Adapter, error) {
	return NewWithFactory(cfg, countDefault, defaultBotFactory)
}

// NewWithFactory creates an adapter with a custom bot factory.
func NewWithFactory(cfg config.Telegram, countDefault string, factory BotFactory) (*Adapter, error) {
	envName := cfg.TokenEnv
	if envName == "" {
		envName = "TELEGRAM_BOT_TOKEN"
	}
	token := strings.TrimSpace(os.Getenv(envName))
	if token == "" {
		return nil, fmt.Errorf("telegram token is required: set %s", envName)
	}
	maxInFlight := cfg.MaxConcurrent
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &Adapter{
		token:        token,
		proxy:        cfg.Proxy,
		summaryChat:  cfg.SummaryChat,
		countDefault: countDefault,
		factory:      factory,
		inFlight:     semaphore.NewWeighted(int64(maxInFlight)),
	}, nil
}

func (a *Adapter) initBot() error {
	client := http.DefaultClient
	if a.proxy != "" {
		proxyURL, err := url.Parse(a.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}

	bot, err := a.factory(a.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

// Start connects and handles updates until ctx is done or Stop is called.
// Each update runs on its own goroutine so commands waiting on the language
// model do not hold up intake of other messages.
func (a *Adapter) Start(ctx context.Context, handler Handler) error {
	if err := a.initBot(); err != nil {
		return err
	}
	a.handler = handler
	ctx, a.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				if err := a.inFlight.Acquire(ctx, 1); err != nil {
					return
				}
				a.wg.Add(1)
				go func(msg *tgbotapi.Message) {
					defer a.wg.Done()
					defer a.inFlight.Release(1)
					a.handleMessage(ctx, msg)
				}(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

// Stop ends polling and waits for updates already being handled.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}
	a.wg.Wait()
	log.Printf("[telegram] stopped")
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	groupID := strconv.FormatInt(msg.Chat.ID, 10)
	author := authorName(msg.From)

	res, err := a.handler.HandleMessage(ctx, pipeline.Incoming{
		GroupID:    groupID,
		Channel:    channelName(msg.Chat),
		ExternalID: strconv.Itoa(msg.MessageID),
		Author:     author,
		Text:       text,
		IsBot:      msg.From.IsBot,
		Timestamp:  time.Unix(int64(msg.Date), 0),
	})
	if err != nil {
		log.Printf("[telegram] handling message from %s failed: %v", author, err)
	} else if res.Contributions > 0 {
		log.Printf("[telegram] logged %d contributions from %s", res.Contributions, author)
	}

	if msg.From.IsBot || !msg.IsCommand() {
		return
	}
	command := msg.Command()
	if a.handler.IsIgnoredUser(author) && command != "summary" {
		log.Printf("[telegram] ignoring /%s from %s", command, author)
		return
	}

	reply := a.dispatch(ctx, groupID, command, strings.TrimSpace(msg.CommandArguments()))
	if reply != "" {
		a.reply(msg.Chat.ID, msg.MessageID, reply)
	}
}

func (a *Adapter) dispatch(ctx context.Context, groupID, command, args string) string {
	switch command {
	case "ask":
		if args == "" {
			return "Usage: /ask <question>"
		}
		return a.handler.Ask(ctx, groupID, args)

	case "summary":
		_, err := a.handler.Summarize(ctx, groupID, time.Time{}, database.TriggerManual)
		if errors.Is(err, summarize.ErrNoMessages) {
			return "No messages found to summarize."
		}
		if err != nil {
			log.Printf("[telegram] summary for %s failed: %v", groupID, err)
			return "Summary failed: " + err.Error()
		}
		return "Summary has been generated and posted!"

	case "count_answers":
		channel := a.countChannel(args)
		n, err := a.handler.CountAnswers(ctx, groupID, channel)
		if err != nil {
			return countError(channel, err)
		}
		return fmt.Sprintf("📊 I found %d meaningful answers in #%s.", n, channel)

	case "count_messages":
		channel := a.countChannel(args)
		n, err := a.handler.CountMessages(groupID, channel)
		if err != nil {
			return countError(channel, err)
		}
		return fmt.Sprintf("📊 Total messages in #%s (excluding ignored users): %d", channel, n)

	case "help", "start":
		return helpText
	}
	return ""
}

func (a *Adapter) countChannel(args string) string {
	if ch := strings.TrimPrefix(args, "#"); ch != "" {
		return ch
	}
	return a.countDefault
}

func countError(channel string, err error) string {
	if errors.Is(err, pipeline.ErrUnknownChannel) {
		return fmt.Sprintf("❌ Channel #%s not found.", channel)
	}
	return "Count failed: " + err.Error()
}

func (a *Adapter) reply(chatID int64, replyTo int, text string) {
	for i, part := range summarize.Chunk(text, maxReply) {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 {
			msg.ReplyToMessageID = replyTo
		}
		if _, err := a.bot.Send(msg); err != nil {
			log.Printf("[telegram] reply to %d failed: %v", chatID, err)
			return
		}
	}
}

// Emit posts a summary in chunks to the configured summary chat, or back
// to the group's own chat when none is configured.
func (a *Adapter) Emit(_ context.Context, groupID, summary string) error {
	if a.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID := a.summaryChat
	if chatID == 0 {
		id, err := strconv.ParseInt(groupID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q: %w", groupID, err)
		}
		chatID = id
	}
	for _, part := range summarize.Chunk(summarize.Header+summary, summarize.MaxChunk) {
		if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send summary: %w", err)
		}
	}
	return nil
}

func authorName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return strconv.FormatInt(u.ID, 10)
}

func channelName(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if c.UserName != "" {
		return c.UserName
	}
	return "direct"
}
