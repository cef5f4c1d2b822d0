package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/congo-pay/chatwallet/internal/logging"
)

var (
	transferPattern = regexp.MustCompile(`(?i)\b(?:send|pay|transfer)\b\s+\$?(\d+(?:\.\d*)?|\.\d+)\b.*?(0x[0-9a-fA-F]{40})\b`)
	balancePattern  = regexp.MustCompile(`(?i)\b(?:balance|how much)\b`)
)

// KeywordClassifier recognises "send <amount> ... <0x address>" and balance
// questions without any remote call.
type KeywordClassifier struct{}

// Classify implements Classifier. It never fails.
func (KeywordClassifier) Classify(_ context.Context, text string) (Intent, error) {
	if m := transferPattern.FindStringSubmatch(text); m != nil {
		return Transfer{Amount: m[1], Recipient: m[2]}, nil
	}
	if balancePattern.MatchString(text) {
		return BalanceQuery{}, nil
	}
	return Unknown{Action: strings.TrimSpace(text)}, nil
}

type fallback struct {
	primary   Classifier
	secondary Classifier
	logger    *slog.Logger
}

// WithFallback uses secondary whenever primary errors.
func WithFallback(primary, secondary Classifier, logger *slog.Logger) Classifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *fallback) Classify(ctx context.Context, text string) (Intent, error) {
	in, err := f.primary.Classify(ctx, text)
	if err == nil {
		return in, nil
	}
	f.logger.Warn("primary classifier failed, using fallback", slog.Any("error", err))
	return f.secondary.Classify(ctx, text)
}
