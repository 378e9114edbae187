// codec.go - JSON / MessagePack content negotiation
package api

import (
	"bytes"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEMsgpack is served when the client asks for it in Accept.
const MIMEMsgpack = "application/msgpack"

func wantsMsgpack(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEMsgpack)
}

// respond writes v as MessagePack when the client accepts it, JSON otherwise.
// MessagePack keys follow the json tags so both encodings look the same.
func respond(c echo.Context, status int, v interface{}) error {
	if !wantsMsgpack(c) {
		return c.JSON(status, v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(v); err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(status, MIMEMsgpack, buf.Bytes())
}

// bindBody decodes a JSON or MessagePack request body into v.
func bindBody(c echo.Context, v interface{}) error {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ct, MIMEMsgpack) {
		dec := msgpack.NewDecoder(c.Request().Body)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(v); err != nil {
			return NewBadRequestError("invalid msgpack body", err)
		}
		return nil
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return nil
}
