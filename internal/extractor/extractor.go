// Package extractor разбирает свободный текст банковского перевода
// в структурированное платёжное событие.
package extractor

import (
	"regexp"
	"strings"

	"github.com/mmeshcher/keyshop-system/internal/model"
)

// referencePattern описывает структурированный номер заказа в тексте перевода.
var referencePattern = regexp.MustCompile(`(?i)ORD\d+`)

// channelMarkers — служебные префиксы банковских каналов, которые шлюзы
// дописывают перед содержимым перевода.
var channelMarkers = map[string]struct{}{
	"IB":    {},
	"MB":    {},
	"FT":    {},
	"IBFT":  {},
	"NAPAS": {},
	"QR":    {},
	"CK":    {},
}

// Extract строит платёжное событие из сырого описания перевода.
// Отсутствие распознаваемого номера заказа не является ошибкой:
// Reference остаётся пустым, решение принимает сопоставление.
func Extract(rawDescription string, amountReceived int64, gateway string) model.PaymentEvent {
	return model.PaymentEvent{
		RawDescription: rawDescription,
		AmountReceived: amountReceived,
		Reference:      extractReference(rawDescription),
		Gateway:        gateway,
	}
}

// extractReference ищет кандидата на номер заказа: сначала по шаблону
// "ORD + цифры", затем по ведущему сегменту до разделителя с отброшенными
// маркерами банковских каналов.
func extractReference(text string) string {
	if m := referencePattern.FindString(text); m != "" {
		return strings.ToUpper(m)
	}

	head := text
	if i := strings.IndexAny(text, "-_"); i >= 0 {
		head = text[:i]
	}

	for _, token := range strings.Fields(head) {
		if _, ok := channelMarkers[strings.ToUpper(token)]; ok {
			continue
		}
		return strings.ToUpper(token)
	}

	return ""
}
