package usecase

import (
	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
)

type noopObserver struct{}

func (noopObserver) ObserveCheckout(int) {}
func (noopObserver) ObserveCheckin(domain.CheckinSummary) {}
func (noopObserver) ObserveOnboarded(int) {}
func (noopObserver) ObserveReclaimed(int) {}

func observerOrNoop(o ports.TaggingObserver) ports.TaggingObserver {
	if o == nil {
		return noopObserver{}
	}
	return o
}
