// Package progress reports what a report build is doing. The real signal is
// the Stage; Percent is cosmetic and only ever moves forward while a build is
// blocking, driven by the pipeline's checkpoints and a decelerating trickle.
package progress

import (
	"math"
	"time"
)

// Stage is the real state of a build
type Stage string

const (
	StageIdle          Stage = "idle"
	StageDecidingCache Stage = "deciding-cache"
	StageLoadingUnit   Stage = "loading-unit"
	StageCapturing     Stage = "capturing"
	StageFinalizing    Stage = "finalizing"
	StageDone          Stage = "done"
	StageCancelled     Stage = "cancelled"
	StageFailed        Stage = "failed"
)

// Terminal reports whether no more progress follows this stage
func (s Stage) Terminal() bool {
	switch s {
	case StageDone, StageCancelled, StageFailed:
		return true
	default:
		return false
	}
}

// Messages shown by the dashboard
const (
	MsgPreparing      = "Preparando…"
	MsgPreparingAll   = "Preparando geração para todos os polos…"
	MsgGenerating     = "Gerando PDF…"
	MsgCheckingCache  = "Verificando cache…"
	MsgCacheMiss      = "Cache não encontrado. Gerando…"
	MsgCacheHit       = "Carregado do cache."
	MsgAppendix       = "Anexando questionário…"
	MsgFinishing      = "Finalizando PDF…"
	MsgDone           = "Concluído!"
	MsgCancelled      = "Geração cancelada."
	MsgLoadingUnit    = "Carregando dados do polo %d/%d…"
	MsgLoadingOneUnit = "Carregando dados do polo selecionado…"
	MsgPages          = "Gerando páginas %d/%d…"
)

const (
	// AggregateCap and SingleCap bound the trickle before finalization
	AggregateCap = 95.0
	SingleCap    = 88.0
	// TickInterval is the trickle period
	TickInterval = 450 * time.Millisecond
)

// State is a snapshot of the progress of the current selection
type State struct {
	Percent  float64 `json:"percent"`
	Message  string  `json:"message"`
	Blocking bool    `json:"blocking"`
	Stage    Stage   `json:"stage"`
}

// Initial is the state after every selection change
func Initial() State {
	return State{Percent: 0, Message: MsgPreparing, Blocking: false, Stage: StageIdle}
}

// Trickle returns the next cosmetic percentage: larger steps early, smaller
// ones as p approaches limit, never beyond it and never backwards.
func Trickle(p, limit float64) float64 {
	if p >= limit {
		return p
	}
	var step float64
	switch {
	case p < 20:
		step = 2.0
	case p < 50:
		step = 1.4
	case p < 70:
		step = 0.9
	default:
		step = 0.5
	}
	return math.Min(p+step, limit)
}

// CapFor returns the trickle cap of a build
func CapFor(aggregate bool) float64 {
	if aggregate {
		return AggregateCap
	}
	return SingleCap
}

// UnitPercent is the checkpoint percentage after finishing fraction of unit
// idx out of total, scaled to limit so it stays below finalization.
func UnitPercent(idx int, fraction float64, total int, limit float64) float64 {
	if total <= 0 {
		total = 1
	}
	pct := math.Round((float64(idx) + fraction) / float64(total) * limit)
	return math.Min(pct, limit)
}
