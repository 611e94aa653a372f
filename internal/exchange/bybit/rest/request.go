package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"gtrader/internal/exchange"
)

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body any, auth bool, out statusCarrier) error {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("Не удалось подготовить тело запроса: %w", err)
		}
		bodyStr = string(payload)
		bodyReader = bytes.NewReader(payload)
	}

	query := ""
	if len(params) > 0 {
		query = params.Encode()
	}
	urlStr := c.baseURL + path
	if query != "" {
		urlStr += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}

	if auth {
		timestamp := strconv.FormatInt(c.now(), 10)
		signBase := timestamp + c.apiKey + c.recvWindow
		if method == http.MethodGet {
			signBase += query
		} else {
			signBase += bodyStr
		}

		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-SIGN", sign(c.secret, signBase))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &exchange.TransportError{Op: "Ошибка запроса " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exchange.TransportError{Op: "Не удалось прочитать ответ", Err: err}
	}

	if resp.StatusCode >= 400 {
		c.log.WithField("path", path).WithField("status", resp.StatusCode).Warn("Неуспешный HTTP статус")
		return &exchange.APIError{HTTPStatus: resp.StatusCode, Msg: strings.TrimSpace(http.StatusText(resp.StatusCode))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &exchange.TransportError{Op: "Не удалось разобрать ответ", Err: err}
	}

	if code, msg := out.status(); code != 0 {
		return &exchange.APIError{Code: code, Msg: msg, HTTPStatus: resp.StatusCode}
	}

	return nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
