package translate

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/minios-linux/mdxlate/deepl"
)

// Budget tracks the characters left on the account. It is seeded from the
// usage endpoint and shared by every file of a run.
type Budget struct {
	mu        sync.Mutex
	remaining int64
	unlimited bool
}

// NewBudget returns a budget of remaining characters; a negative value means
// the account has no limit.
func NewBudget(remaining int64) *Budget {
	return &Budget{remaining: remaining, unlimited: remaining < 0}
}

// BudgetFromUsage seeds a budget from a usage report.
func BudgetFromUsage(u deepl.Usage) *Budget {
	return NewBudget(u.Remaining())
}

// Reserve charges n characters, failing with deepl.ErrQuotaExceeded when
// they do not fit.
func (b *Budget) Reserve(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlimited {
		return nil
	}
	if n > b.remaining {
		return fmt.Errorf("%w: batch needs %d characters, %d left", deepl.ErrQuotaExceeded, n, b.remaining)
	}
	b.remaining -= n
	return nil
}

// Refund returns characters of a request the service did not bill.
func (b *Budget) Refund(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.unlimited {
		b.remaining += n
	}
}

// Remaining returns the characters left, -1 when unlimited.
func (b *Budget) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlimited {
		return -1
	}
	return b.remaining
}

func countChars(texts []string) int64 {
	var n int64
	for _, t := range texts {
		n += int64(utf8.RuneCountInString(t))
	}
	return n
}
