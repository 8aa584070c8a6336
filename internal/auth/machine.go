package auth

// Phase is the auth state machine's current step. PhaseReady is the resting phase.
type Phase string

const (
	PhaseInitialize  Phase = "initialize"
	PhaseReady       Phase = "ready"
	PhaseDoLogin     Phase = "do-login"
	PhaseDoLogout    Phase = "do-logout"
	PhaseEventLogin  Phase = "event-login"
	PhaseEventLogout Phase = "event-logout"
)

type Event int

const (
	// EventRestore starts without a callback: restore the persisted session.
	EventRestore Event = iota
	// EventCallback carries code and state back from Canvas.
	EventCallback
	EventLoginRequested
	EventLogoutRequested
	EventBroadcastLogin
	EventBroadcastLogout
	// EventSettled reports that the effects of the current phase have finished.
	EventSettled
)

func (e Event) String() string {
	switch e {
	case EventRestore:
		return "restore"
	case EventCallback:
		return "callback"
	case EventLoginRequested:
		return "login-requested"
	case EventLogoutRequested:
		return "logout-requested"
	case EventBroadcastLogin:
		return "broadcast-login"
	case EventBroadcastLogout:
		return "broadcast-logout"
	case EventSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Effect is work the Manager performs outside the transition function.
type Effect int

const (
	EffectRestoreSession Effect = iota
	EffectCompleteLogin
	EffectBeginLogin
	EffectLogout
	EffectDeriveToken
	EffectDropToken
)

// Transition is the pure auth state machine. ok is false when the event is not
// accepted in the given phase; the phase is then returned unchanged.
func Transition(from Phase, ev Event) (to Phase, effects []Effect, ok bool) {
	if ev == EventSettled {
		if from == PhaseReady {
			return from, nil, false
		}
		return PhaseReady, nil, true
	}

	switch from {
	case PhaseInitialize:
		switch ev {
		case EventRestore:
			return PhaseInitialize, []Effect{EffectRestoreSession}, true
		case EventCallback:
			return PhaseDoLogin, []Effect{EffectCompleteLogin}, true
		}

	case PhaseReady:
		switch ev {
		case EventCallback:
			return PhaseDoLogin, []Effect{EffectCompleteLogin}, true
		case EventLoginRequested:
			return PhaseDoLogin, []Effect{EffectBeginLogin}, true
		case EventLogoutRequested:
			return PhaseDoLogout, []Effect{EffectLogout}, true
		case EventBroadcastLogin:
			return PhaseEventLogin, []Effect{EffectDeriveToken}, true
		case EventBroadcastLogout:
			return PhaseEventLogout, []Effect{EffectDropToken}, true
		}
	}

	return from, nil, false
}
