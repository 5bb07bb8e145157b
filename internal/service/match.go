package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/keyshop-system/internal/model"
	"github.com/mmeshcher/keyshop-system/internal/repository"
)

// matchOrder сопоставляет платёжное событие не более чем с одним заказом.
// Сначала точный поиск по извлечённому номеру, затем поиск по вхождению
// номеров ожидающих заказов в текст перевода. Неоднозначное совпадение
// отклоняется: угадывать опаснее, чем отдать событие на ручной разбор.
//
// Ровно одно из возвращаемых значений не nil: заказ для сверки либо
// готовый итог для ответа шлюзу.
func (s *Service) matchOrder(ctx context.Context, event model.PaymentEvent) (*model.Order, *model.ReconcileResult, error) {
	if event.Reference != "" {
		order, err := s.repo.GetOrderByReference(ctx, event.Reference)
		switch {
		case err == nil:
			if order.Status == model.OrderStatusCompleted {
				// Повторная доставка по завершённому заказу.
				return nil, &model.ReconcileResult{
					Outcome:        model.OutcomeDuplicate,
					OrderReference: order.Reference,
				}, nil
			}
			return order, nil, nil
		case errors.Is(err, repository.ErrOrderNotFound):
			// Переходим к поиску по вхождению.
		default:
			return nil, nil, fmt.Errorf("lookup order %s: %w", event.Reference, err)
		}
	}

	pending, err := s.repo.GetPendingOrders(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("scan pending orders: %w", err)
	}

	description := strings.ToUpper(event.RawDescription)

	var candidates []model.Order
	for _, order := range pending {
		if order.Reference != "" && strings.Contains(description, strings.ToUpper(order.Reference)) {
			candidates = append(candidates, order)
		}
	}

	switch len(candidates) {
	case 1:
		order := candidates[0]
		return &order, nil, nil
	case 0:
		if event.Reference == "" {
			s.audit(ctx, model.AuditNoReference, model.UnknownOrderReference,
				fmt.Sprintf("no order reference in description %q", event.RawDescription))
			return nil, &model.ReconcileResult{
				Outcome:        model.OutcomeNoReference,
				OrderReference: model.UnknownOrderReference,
			}, nil
		}
		s.audit(ctx, model.AuditOrderNotFound, event.Reference,
			fmt.Sprintf("no pending order for reference %s, description %q",
				event.Reference, event.RawDescription))
		return nil, &model.ReconcileResult{
			Outcome:        model.OutcomeNoMatch,
			OrderReference: event.Reference,
		}, nil
	default:
		refs := make([]string, 0, len(candidates))
		for _, c := range candidates {
			refs = append(refs, c.Reference)
		}
		s.audit(ctx, model.AuditAmbiguousMatch, model.UnknownOrderReference,
			fmt.Sprintf("description %q matches orders %s",
				event.RawDescription, strings.Join(refs, ", ")))
		return nil, &model.ReconcileResult{
			Outcome:        model.OutcomeAmbiguous,
			OrderReference: model.UnknownOrderReference,
		}, nil
	}
}
