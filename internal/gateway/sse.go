package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/labstack/echo/v4"
)

func writeEvent(w *echo.Response, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func writeKeepAlive(w *echo.Response) error {
	if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
		return err
	}
	w.Flush()
	return nil
}
