// Package analytics реализует ограниченные окна показаний и сравнительную
// статистику задержек доставки по pull- и push-каналам
package analytics

import (
	"fmt"
	"math"
	"sync"

	"telemetry-sync/internal/models"
)

const (
	// ReadingsViewSize размер окна показаний каждого канала
	ReadingsViewSize = 10
	// LatencySeriesSize размер ряда задержек каждого канала
	LatencySeriesSize = 15
)

// LatencySeries скользящий ряд задержек одного канала с накопленной суммой
type LatencySeries struct {
	window *Window[models.LatencySample]
	sum    float64
	sumSq  float64
}

// NewLatencySeries создает ряд заданного размера
func NewLatencySeries(size int) *LatencySeries {
	return &LatencySeries{window: NewWindow[models.LatencySample](size)}
}

// Add добавляет образец в ряд
func (s *LatencySeries) Add(sample models.LatencySample) {
	if old, evicted := s.window.Push(sample); evicted {
		// Удаляем старое значение из статистики
		s.sum -= old.LatencyMillis
		s.sumSq -= old.LatencyMillis * old.LatencyMillis
	}
	s.sum += sample.LatencyMillis
	s.sumSq += sample.LatencyMillis * sample.LatencyMillis
}

// Mean возвращает среднее значение, 0 для пустого ряда
func (s *LatencySeries) Mean() float64 {
	n := s.window.Len()
	if n == 0 {
		return 0
	}
	return s.sum / float64(n)
}

// StdDev возвращает стандартное отклонение (джиттер канала)
func (s *LatencySeries) StdDev() float64 {
	n := float64(s.window.Len())
	if n < 2 {
		return 0
	}
	variance := (s.sumSq - (s.sum*s.sum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Count возвращает количество образцов в ряду
func (s *LatencySeries) Count() int {
	return s.window.Len()
}

// At образец по индексу (0 - самый старый)
func (s *LatencySeries) At(i int) (models.LatencySample, bool) {
	return s.window.At(i)
}

// Samples копия ряда в порядке добавления
func (s *LatencySeries) Samples() []models.LatencySample {
	return s.window.Items()
}

// Reset очищает ряд
func (s *LatencySeries) Reset() {
	s.window.Clear()
	s.sum = 0
	s.sumSq = 0
}

// channelSeries ряд канала со своим мьютексом и счетчиком последовательности.
// Между рядами нет общего инварианта, поэтому общий замок не нужен.
type channelSeries struct {
	mu     sync.RWMutex
	seq    uint64
	series *LatencySeries
}

// Recorder накапливает задержки обоих каналов и считает сравнение
type Recorder struct {
	pull channelSeries
	push channelSeries
}

// NewRecorder создает регистратор с рядами заданного размера
func NewRecorder(size int) *Recorder {
	return &Recorder{
		pull: channelSeries{series: NewLatencySeries(size)},
		push: channelSeries{series: NewLatencySeries(size)},
	}
}

func (r *Recorder) channel(ch models.Channel) *channelSeries {
	if ch == models.ChannelPush {
		return &r.push
	}
	return &r.pull
}

// Record добавляет задержку канала и возвращает созданный образец
func (r *Recorder) Record(ch models.Channel, latencyMillis float64) models.LatencySample {
	cs := r.channel(ch)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.seq++
	sample := models.LatencySample{
		Sequence:      cs.seq,
		Channel:       ch,
		LatencyMillis: latencyMillis,
	}
	cs.series.Add(sample)
	return sample
}

// AverageLatency среднее текущего ряда канала, 0 если ряд пуст
func (r *Recorder) AverageLatency(ch models.Channel) float64 {
	cs := r.channel(ch)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.series.Mean()
}

// StdDev стандартное отклонение ряда канала
func (r *Recorder) StdDev(ch models.Channel) float64 {
	cs := r.channel(ch)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.series.StdDev()
}

// Samples копия ряда канала
func (r *Recorder) Samples(ch models.Channel) []models.LatencySample {
	cs := r.channel(ch)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.series.Samples()
}

// Ratio во сколько раз pull медленнее push; 0 если одно из средних равно 0
func (r *Recorder) Ratio() float64 {
	pull := r.AverageLatency(models.ChannelPull)
	push := r.AverageLatency(models.ChannelPush)
	if pull == 0 || push == 0 {
		return 0
	}
	return pull / push
}

// Delta сравнивает каналы в позиции index. ok=false, если хотя бы
// в одном ряду нет образца в этой позиции.
func (r *Recorder) Delta(index int) (models.Delta, bool) {
	pull, okPull := r.sampleAt(models.ChannelPull, index)
	push, okPush := r.sampleAt(models.ChannelPush, index)
	if !okPull || !okPush {
		return models.Delta{}, false
	}

	d := models.Delta{
		Index:      index,
		Difference: math.Abs(pull.LatencyMillis - push.LatencyMillis),
	}
	switch {
	case push.LatencyMillis < pull.LatencyMillis:
		d.Winner = models.ChannelPush
	case pull.LatencyMillis < push.LatencyMillis:
		d.Winner = models.ChannelPull
	default:
		d.Tie = true
	}
	return d, true
}

func (r *Recorder) sampleAt(ch models.Channel, index int) (models.LatencySample, bool) {
	cs := r.channel(ch)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.series.At(index)
}

// Labels общий ряд подписей, выравнивающий оба ряда по индексу.
// Подписи берутся из номеров последовательности более длинного ряда.
func (r *Recorder) Labels() []string {
	pull := r.Samples(models.ChannelPull)
	push := r.Samples(models.ChannelPush)
	longer := pull
	if len(push) > len(pull) {
		longer = push
	}
	labels := make([]string, len(longer))
	for i, s := range longer {
		labels[i] = fmt.Sprintf("#%d", s.Sequence)
	}
	return labels
}

// Comparison точки для графика сравнения, выровненные по индексу
func (r *Recorder) Comparison() []models.ComparisonPoint {
	pull := r.Samples(models.ChannelPull)
	push := r.Samples(models.ChannelPush)
	labels := r.Labels()

	points := make([]models.ComparisonPoint, len(labels))
	for i := range labels {
		p := models.ComparisonPoint{Index: i, Label: labels[i]}
		if i < len(pull) {
			v := pull[i].LatencyMillis
			p.Pull = &v
		}
		if i < len(push) {
			v := push[i].LatencyMillis
			p.Push = &v
		}
		points[i] = p
	}
	return points
}

// Performance собирает сравнительные показатели для снимка
func (r *Recorder) Performance() models.Performance {
	return models.Performance{
		Pull:       r.stats(models.ChannelPull),
		Push:       r.stats(models.ChannelPush),
		Ratio:      r.Ratio(),
		Labels:     r.Labels(),
		Comparison: r.Comparison(),
	}
}

func (r *Recorder) stats(ch models.Channel) models.ChannelStats {
	cs := r.channel(ch)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return models.ChannelStats{
		Channel:          ch,
		AverageLatencyMs: cs.series.Mean(),
		StdDevMs:         cs.series.StdDev(),
		Samples:          cs.series.Samples(),
	}
}

// Reset очищает оба ряда и сбрасывает последовательности
func (r *Recorder) Reset() {
	for _, cs := range []*channelSeries{&r.pull, &r.push} {
		cs.mu.Lock()
		cs.seq = 0
		cs.series.Reset()
		cs.mu.Unlock()
	}
}
