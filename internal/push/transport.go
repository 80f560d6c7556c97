package push

import (
	"context"
	"strings"
)

// SubjectPlaceholder подстановка субъекта в шаблон адреса подписки
const SubjectPlaceholder = "{subject}"

// Transport устанавливает соединение и подписку на адрес субъекта
type Transport interface {
	// Dial выполняет рукопожатие и подписку. Возвращает только после
	// того, как подписка активна.
	Dial(ctx context.Context, subject string) (Subscription, error)
	// Name имя транспорта для логов и метрик
	Name() string
}

// Subscription одна активная подписка
type Subscription interface {
	// Messages тела сообщений; канал закрывается, когда поток завершился
	Messages() <-chan []byte
	// Err причина завершения потока; nil после Close
	Err() error
	// Close закрывает подписку и транспорт. Идемпотентен.
	Close() error
}

// Destination адрес подписки для субъекта
func Destination(template, subject string) string {
	return strings.ReplaceAll(template, SubjectPlaceholder, subject)
}
