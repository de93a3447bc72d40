package flux

// TurnState is the client-side view of whether the user is mid-turn.
type TurnState int32

const (
	TurnIdle TurnState = iota
	TurnSpeaking
)

func (t TurnState) String() string {
	if t == TurnSpeaking {
		return "speaking"
	}
	return "idle"
}

// TurnState returns the current turn state.
func (s *Session) TurnState() TurnState {
	if s.speaking.Load() {
		return TurnSpeaking
	}
	return TurnIdle
}

// IsSpeaking reports whether a turn is in progress.
func (s *Session) IsSpeaking() bool {
	return s.speaking.Load()
}

// handleTurn applies one TurnInfo event to the turn state and schedules the matching handler.
func (s *Session) handleTurn(info TurnInfo, d *dispatcher) {
	s.metrics.RecordTurnEvent(string(info.Event))
	if s.State() != Open {
		s.logger.Debug().Str("event", string(info.Event)).Msg("Dropping turn event outside open session")
		return
	}

	h := s.handlers
	transcript := info.Transcript
	log := s.logger.Debug().
		Str("event", string(info.Event)).
		Int64("turnIndex", info.TurnIndex).
		Int64("sequenceId", info.SequenceID)

	switch info.Event {
	case StartOfTurn:
		s.speaking.Store(true)
		log.Msg("Turn started")
		if h.OnStartOfTurn != nil {
			d.enqueue("start_of_turn", func() { h.OnStartOfTurn(transcript) })
		}

	case TurnResumed:
		log.Msg("Turn resumed")
		d.enqueue("turn_resumed", h.OnTurnResumed)

	case Update:
		if transcript == "" {
			return
		}
		if h.OnUpdate != nil {
			d.enqueue("update", func() { h.OnUpdate(transcript) })
		}

	case EagerEndOfTurn:
		log.Float64("eotConfidence", info.EndOfTurnConfidence).Msg("Eager end of turn")
		if h.OnEagerEndOfTurn != nil {
			d.enqueue("eager_end_of_turn", func() { h.OnEagerEndOfTurn(transcript, info) })
		}

	case EndOfTurn:
		s.speaking.Store(false)
		if minConf := s.cfg.Params.MinConfidence; minConf > 0 {
			if mean, ok := info.MeanConfidence(); ok && mean < minConf {
				s.logger.Warn().
					Float64("confidence", mean).
					Float64("minConfidence", minConf).
					Int64("turnIndex", info.TurnIndex).
					Msg("Dropping low-confidence turn")
				s.metrics.RecordTurnDropped()
				if h.OnTurnDropped != nil {
					d.enqueue("turn_dropped", func() { h.OnTurnDropped(info) })
				}
				return
			}
		}
		log.Float64("eotConfidence", info.EndOfTurnConfidence).Msg("Turn ended")
		if h.OnEndOfTurn != nil {
			d.enqueue("end_of_turn", func() { h.OnEndOfTurn(transcript, info) })
		}
	}
}
