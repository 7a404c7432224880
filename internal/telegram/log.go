package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zerologAdapter routes tgbotapi's internal logging (polling errors, debug
// dumps) through zerolog.
type zerologAdapter struct {
	lg zerolog.Logger
}

func (a zerologAdapter) Println(v ...interface{}) {
	a.lg.Warn().Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (a zerologAdapter) Printf(format string, v ...interface{}) {
	a.lg.Warn().Msg(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

// UseZerolog installs the global zerolog logger as tgbotapi's logger.
func UseZerolog() error {
	return tgbotapi.SetLogger(zerologAdapter{lg: log.With().Str("component", "tgbotapi").Logger()})
}
