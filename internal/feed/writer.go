package feed

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
)

// Состояния потокового писателя фида
const (
	stateIdle = iota
	stateOpen
	stateClosed
)

var (
	ErrWriterNotOpen       = errors.New("feed writer is not open")
	ErrWriterAlreadyOpen   = errors.New("feed writer is already open")
	ErrWriterAlreadyClosed = errors.New("feed writer is already closed")
)

// Writer потоковый сериализатор RSS фида товаров.
// Заголовок документа пишется сразу в Open, каждый элемент - в AddItem,
// закрывающие теги - в Close. В памяти никогда не находится больше одного
// элемента, что позволяет собирать фиды произвольного размера
type Writer struct {
	buf   *bufio.Writer
	state int
}

// NewWriter создает писателя фида поверх указанного приемника
func NewWriter(sink io.Writer) *Writer {
	return &Writer{
		buf: bufio.NewWriter(sink),
	}
}

// Open пишет декларацию документа, корневой элемент и метаданные канала
func (w *Writer) Open(opts models.FeedOptions) error {
	switch w.state {
	case stateOpen:
		return ErrWriterAlreadyOpen
	case stateClosed:
		return ErrWriterAlreadyClosed
	}

	w.buf.WriteString(xml.Header)
	w.buf.WriteString(`<rss xmlns:g="http://base.google.com/ns/1.0" version="2.0">` + "\n")
	w.buf.WriteString("  <channel>\n")

	if err := w.writeElement("    ", "title", opts.Title); err != nil {
		return err
	}
	if err := w.writeElement("    ", "link", opts.Link); err != nil {
		return err
	}
	// Описание опционально и при отсутствии не пишется вовсе
	if opts.Description != "" {
		if err := w.writeElement("    ", "description", opts.Description); err != nil {
			return err
		}
	}

	w.state = stateOpen
	return w.buf.Flush()
}

// AddItem дописывает один элемент фида к уже открытому документу
func (w *Writer) AddItem(item models.FeedItem) error {
	if w.state != stateOpen {
		return ErrWriterNotOpen
	}

	w.buf.WriteString("    <item>\n")

	if err := w.writeElement("      ", "g:id", item.ID); err != nil {
		return err
	}
	if err := w.writeElement("      ", "g:title", item.Title); err != nil {
		return err
	}
	if err := w.writeElement("      ", "g:description", item.Description); err != nil {
		return err
	}
	if err := w.writeElement("      ", "g:link", item.Link); err != nil {
		return err
	}
	if item.ImageLink != "" {
		if err := w.writeElement("      ", "g:image_link", item.ImageLink); err != nil {
			return err
		}
	}
	if err := w.writeElement("      ", "g:price", FormatPrice(item.Price, item.Currency)); err != nil {
		return err
	}
	if err := w.writeElement("      ", "g:availability", string(item.Availability)); err != nil {
		return err
	}

	w.buf.WriteString("    </item>\n")
	return w.buf.Flush()
}

// Close завершает документ и сбрасывает буфер в приемник.
// Безопасен для повторного вызова
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return nil
	}
	if w.state != stateOpen {
		return ErrWriterNotOpen
	}

	w.buf.WriteString("  </channel>\n")
	w.buf.WriteString("</rss>\n")
	w.state = stateClosed
	return w.buf.Flush()
}

// writeElement пишет элемент с экранированным текстовым содержимым
func (w *Writer) writeElement(indent, name, text string) error {
	w.buf.WriteString(indent)
	w.buf.WriteByte('<')
	w.buf.WriteString(name)
	w.buf.WriteByte('>')

	if err := xml.EscapeText(w.buf, []byte(text)); err != nil {
		return fmt.Errorf("failed to escape element %s: %w", name, err)
	}

	w.buf.WriteString("</")
	w.buf.WriteString(name)
	w.buf.WriteString(">\n")
	return nil
}

// FormatPrice выводит цену в минорных единицах как "<major> <currency>".
// Незначащие нули дробной части отбрасываются: 1999 USD -> "19.99 USD",
// 500 EUR -> "5 EUR"
func FormatPrice(minor int64, currency string) string {
	major := minor / 100
	frac := minor % 100

	var amount string
	switch {
	case frac == 0:
		amount = strconv.FormatInt(major, 10)
	case frac%10 == 0:
		amount = fmt.Sprintf("%d.%d", major, frac/10)
	default:
		amount = fmt.Sprintf("%d.%02d", major, frac)
	}

	return strings.TrimSpace(amount + " " + currency)
}
