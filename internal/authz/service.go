// Package authz serves the nauthz event admission API on top of the
// admission pipeline.
package authz

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lessucettes/adresu-authz/internal/authz/nauthz"
	"github.com/lessucettes/adresu-authz/internal/policy"
	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/nip"
	kitpolicy "github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"
)

const (
	contentSampleRunes = 40
	maxClosedRetries   = 3
)

// Service implements nauthz.AuthorizationServer. The pipeline it evaluates
// is replaced as a whole on configuration reload, so a request always sees
// one consistent policy.
type Service struct {
	pipeline atomic.Pointer[policy.Pipeline]
}

func NewService(p *policy.Pipeline) *Service {
	s := &Service{}
	s.pipeline.Store(p)
	return s
}

// Swap publishes p for subsequent requests and returns the previous pipeline.
func (s *Service) Swap(p *policy.Pipeline) *policy.Pipeline {
	return s.pipeline.Swap(p)
}

func (s *Service) Pipeline() *policy.Pipeline {
	return s.pipeline.Load()
}

func (s *Service) EventAdmit(ctx context.Context, req *nauthz.EventRequest) (*nauthz.EventReply, error) {
	in := req.GetEvent()
	if in == nil {
		slog.WarnContext(ctx, "Admission request without an event", "remote_ip", req.GetIpAddr())
		return nil, status.Error(codes.InvalidArgument, "event is required")
	}

	ev := &kitpolicy.Event{
		ID:        in.Id,
		PubKey:    in.Pubkey,
		CreatedAt: in.CreatedAt,
		Kind:      in.Kind,
		Content:   in.Content,
		Tags:      in.NostrTags(),
		Sig:       in.Sig,
	}

	meta := make(map[string]any, 3)
	author, err := nip.EncodePublicKey(ev.PubKey)
	if err != nil {
		author = "invalid"
	} else {
		meta[kitpolicy.MetaAuthor] = author
	}
	if ip := req.GetIpAddr(); ip != "" {
		meta[kitpolicy.MetaRemoteIP] = ip
	}
	if origin := req.GetOrigin(); origin != "" {
		meta[kitpolicy.MetaOrigin] = origin
	}

	logAttrs := []slog.Attr{
		slog.Uint64("kind", ev.Kind),
		slog.String("origin", req.GetOrigin()),
		slog.String("author", author),
		slog.Int("tag_count", len(ev.Tags)),
		slog.String("content_sample", contentSample(ev.Content)),
	}
	if domain := req.GetNip05().GetDomain(); domain != "" {
		logAttrs = append(logAttrs, slog.String("nip05_domain", domain))
	}
	if ip := req.GetIpAddr(); ip != "" {
		logAttrs = append(logAttrs, slog.String("remote_ip", ip))
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "Event received", logAttrs...)

	// A reload may close the pipeline between Load and Admit; the swap has
	// already published its successor by then.
	for range maxClosedRetries {
		p := s.pipeline.Load()
		if p == nil {
			slog.ErrorContext(ctx, "No admission pipeline loaded")
			return nil, status.Error(codes.Unavailable, "admission pipeline not ready")
		}
		decision, err := p.Admit(ctx, ev, meta)
		if errors.Is(err, policy.ErrPipelineClosed) {
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Error processing event", "kind", ev.Kind, "author", author, "error", err)
		}
		return replyFor(decision), nil
	}
	slog.ErrorContext(ctx, "Admission pipeline kept closing under the request", "kind", ev.Kind, "author", author)
	return nil, status.Error(codes.Unavailable, "admission pipeline closed")
}

func replyFor(d kitpolicy.Decision) *nauthz.EventReply {
	if d.Permitted() {
		return &nauthz.EventReply{Decision: nauthz.DecisionPermit}
	}
	return &nauthz.EventReply{Decision: nauthz.DecisionDeny, Message: nauthz.String(d.Message())}
}

func contentSample(s string) string {
	if utf8.RuneCountInString(s) <= contentSampleRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == contentSampleRunes {
			return s[:i]
		}
		n++
	}
	return s
}
