package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/lessucettes/adresu-authz/internal/config"
	"github.com/lessucettes/adresu-authz/internal/store"
	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/nip"
	kitpolicy "github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"
)

const ModerationFilterName = "ModerationFilter"

// ModerationFilter turns the moderator's reactions into ban list changes: a
// kind 7 reaction with the ban emoji bans the author in its last "p" tag, the
// unban emoji lifts the ban. It never rejects.
type ModerationFilter struct {
	moderator, banEmoji, unbanEmoji string
	banDuration                     time.Duration
	store                           store.Store
	onChange                        func(author string)
}

// NewModerationFilter returns nil when no moderator is configured. onChange,
// if set, is called with every author whose ban state changed.
func NewModerationFilter(cfg *config.ModerationConfig, s store.Store, onChange func(author string)) (*ModerationFilter, error) {
	if cfg == nil || cfg.ModeratorPubKey == "" {
		return nil, nil
	}
	moderator, err := nip.NormalizePublicKey(cfg.ModeratorPubKey)
	if err != nil {
		return nil, err
	}
	return &ModerationFilter{
		moderator:   moderator,
		banEmoji:    cfg.BanEmoji,
		unbanEmoji:  cfg.UnbanEmoji,
		banDuration: cfg.BanDuration,
		store:       s,
		onChange:    onChange,
	}, nil
}

func (f *ModerationFilter) Match(ctx context.Context, event *nostr.Event, meta map[string]any) (kitpolicy.FilterResult, error) {
	newResult := kitpolicy.NewResultFunc(ModerationFilterName)

	if event.Kind != nostr.KindReaction {
		return newResult(true, "not_a_moderation_event", nil)
	}
	if author, err := authorOf(event, meta); err != nil || author != f.moderator {
		return newResult(true, "not_a_moderation_event", nil)
	}

	pTag := event.Tags.FindLast("p")
	if len(pTag) < 2 {
		return newResult(true, "no_pubkey_tag_in_reaction", nil)
	}
	target, err := nip.NormalizePublicKey(pTag[1])
	if err != nil || target == f.moderator {
		return newResult(true, "invalid_target_pubkey", nil)
	}

	switch event.Content {
	case f.banEmoji:
		slog.Info("Moderator action: banning author", "banned_author", target)
		if err := f.store.BanAuthor(ctx, target, f.banDuration); err != nil {
			return newResult(true, "moderator_ban_failed", err)
		}
		f.changed(target)
		return newResult(true, "moderator_ban_executed", nil)

	case f.unbanEmoji:
		slog.Info("Moderator action: unbanning author", "unbanned_author", target)
		if err := f.store.UnbanAuthor(ctx, target); err != nil {
			return newResult(true, "moderator_unban_failed", err)
		}
		f.changed(target)
		return newResult(true, "moderator_unban_executed", nil)
	}

	return newResult(true, "emoji_not_matched", nil)
}

func (f *ModerationFilter) changed(author string) {
	if f.onChange != nil {
		f.onChange(author)
	}
}
