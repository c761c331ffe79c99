package expense

import (
	"errors"
	"fmt"
	"math"

	"homehub/internal/domain/models"
)

var (
	ErrDuplicateShareUser = errors.New("duplicate user in custom shares")
	ErrShareUserNotMember = errors.New("share user is not a home member")
	ErrBadPercentTotal    = errors.New("custom share percents must sum to 100")
	ErrNoShares           = errors.New("custom split requires at least one share")
)

// ShareSpec is one requested slice of a custom split.
type ShareSpec struct {
	UserID  string
	Percent float64
}

// shareDraft is a computed slice before persistence fields are filled in.
type shareDraft struct {
	UserID       string
	AmountCents  int64
	SplitPercent float64
}

// percentTolerance absorbs client-side float accumulation in custom splits.
const percentTolerance = 0.01

// computeShares divides the amount among members according to the split
// type. Amounts are exact: the drafts always sum to amountCents, with any
// rounding remainder assigned to the last member in home membership order.
func computeShares(splitType models.SplitType, amountCents int64, payerID string, members []*models.HomeMember, specs []ShareSpec) ([]shareDraft, error) {
	switch splitType {
	case models.SplitEqual:
		return computeEqual(amountCents, payerID, members), nil
	case models.SplitCustom:
		return computeCustom(amountCents, members, specs)
	case models.SplitIndividual:
		return []shareDraft{{UserID: payerID, AmountCents: amountCents, SplitPercent: 100}}, nil
	default:
		return nil, fmt.Errorf("unknown split type %q", splitType)
	}
}

func computeEqual(amountCents int64, payerID string, members []*models.HomeMember) []shareDraft {
	// A home of one (or none tracked yet) degenerates to the payer carrying
	// everything.
	if len(members) < 2 {
		return []shareDraft{{UserID: payerID, AmountCents: amountCents, SplitPercent: 100}}
	}

	n := int64(len(members))
	base := amountCents / n
	basePercent := round2(100 / float64(n))

	drafts := make([]shareDraft, 0, n)
	var amountUsed int64
	var percentUsed float64
	for i, m := range members {
		d := shareDraft{UserID: m.UserID, AmountCents: base, SplitPercent: basePercent}
		if i == len(members)-1 {
			d.AmountCents = amountCents - amountUsed
			d.SplitPercent = round2(100 - percentUsed)
		}
		amountUsed += d.AmountCents
		percentUsed += d.SplitPercent
		drafts = append(drafts, d)
	}
	return drafts
}

func computeCustom(amountCents int64, members []*models.HomeMember, specs []ShareSpec) ([]shareDraft, error) {
	if len(specs) == 0 {
		return nil, ErrNoShares
	}

	memberSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberSet[m.UserID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(specs))
	var total float64
	for _, spec := range specs {
		if _, dup := seen[spec.UserID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateShareUser, spec.UserID)
		}
		seen[spec.UserID] = struct{}{}

		if _, ok := memberSet[spec.UserID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrShareUserNotMember, spec.UserID)
		}
		total += spec.Percent
	}
	if math.Abs(total-100) > percentTolerance {
		return nil, fmt.Errorf("%w: got %.2f", ErrBadPercentTotal, total)
	}

	drafts := make([]shareDraft, 0, len(specs))
	var amountUsed int64
	for i, spec := range specs {
		d := shareDraft{
			UserID:       spec.UserID,
			AmountCents:  int64(math.Round(float64(amountCents) * spec.Percent / 100)),
			SplitPercent: round2(spec.Percent),
		}
		if i == len(specs)-1 {
			d.AmountCents = amountCents - amountUsed
		}
		amountUsed += d.AmountCents
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
