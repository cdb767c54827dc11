// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Route is an API endpoint: a method and a path template whose
// placeholders are written {name}, for example
// "/channels/{channel.id}/messages/{message.id}".
type Route struct {
	Method   string
	Template string

	// Exempt routes bypass the global bucket. Interaction callbacks
	// are the main example.
	Exempt bool
}

// RouteKey identifies the requests that share a rate-limit bucket.
type RouteKey struct {
	Method   string
	Template string
	Major    string
}

func (key RouteKey) String() string {
	if key.Major == "" {
		return key.Method + " " + key.Template
	}
	return key.Method + " " + key.Template + " [" + key.Major + "]"
}

// routeID is the key without its major parameter: the unit the server
// assigns a bucket hash to.
func (key RouteKey) routeID() string {
	return key.Method + " " + key.Template
}

// majorParameters are the placeholders whose values partition a
// bucket. The webhook token travels with the webhook id.
var majorParameters = map[string]bool{
	"channel.id":    true,
	"guild.id":      true,
	"webhook.id":    true,
	"webhook.token": true,
}

// Compile substitutes params, in order, into the template and returns
// the escaped path with the request's RouteKey.
func (route Route) Compile(params ...string) (string, RouteKey, error) {
	key := RouteKey{Method: route.Method, Template: route.Template}
	if route.Method == "" || !strings.HasPrefix(route.Template, "/") {
		return "", key, fmt.Errorf("rest: invalid route %q %q", route.Method, route.Template)
	}

	var path strings.Builder
	var majors []string
	remaining := route.Template
	next := 0
	for {
		open := strings.IndexByte(remaining, '{')
		if open < 0 {
			path.WriteString(remaining)
			break
		}
		end := strings.IndexByte(remaining[open:], '}')
		if end < 0 {
			return "", key, fmt.Errorf("rest: unterminated placeholder in %q", route.Template)
		}
		name := remaining[open+1 : open+end]
		if next >= len(params) {
			return "", key, fmt.Errorf("rest: %s needs a value for {%s}", route.Template, name)
		}
		value := params[next]
		next++
		if value == "" {
			return "", key, fmt.Errorf("rest: empty value for {%s} in %s", name, route.Template)
		}
		path.WriteString(remaining[:open])
		path.WriteString(url.PathEscape(value))
		if majorParameters[name] {
			majors = append(majors, value)
		}
		remaining = remaining[open+end+1:]
	}
	if next != len(params) {
		return "", key, fmt.Errorf("rest: %s takes %d parameters, got %d", route.Template, next, len(params))
	}
	key.Major = strings.Join(majors, "/")
	return path.String(), key, nil
}

// Routes used by shardwire itself and commonly by applications.
var (
	GetGateway                = Route{Method: http.MethodGet, Template: "/gateway"}
	GetGatewayBot             = Route{Method: http.MethodGet, Template: "/gateway/bot"}
	GetCurrentUser            = Route{Method: http.MethodGet, Template: "/users/@me"}
	GetChannel                = Route{Method: http.MethodGet, Template: "/channels/{channel.id}"}
	GetChannelMessages        = Route{Method: http.MethodGet, Template: "/channels/{channel.id}/messages"}
	CreateMessage             = Route{Method: http.MethodPost, Template: "/channels/{channel.id}/messages"}
	EditMessage               = Route{Method: http.MethodPatch, Template: "/channels/{channel.id}/messages/{message.id}"}
	DeleteMessage             = Route{Method: http.MethodDelete, Template: "/channels/{channel.id}/messages/{message.id}"}
	CreateReaction            = Route{Method: http.MethodPut, Template: "/channels/{channel.id}/messages/{message.id}/reactions/{emoji}/@me"}
	GetGuild                  = Route{Method: http.MethodGet, Template: "/guilds/{guild.id}"}
	GetGuildMember            = Route{Method: http.MethodGet, Template: "/guilds/{guild.id}/members/{user.id}"}
	ExecuteWebhook            = Route{Method: http.MethodPost, Template: "/webhooks/{webhook.id}/{webhook.token}"}
	CreateInteractionResponse = Route{Method: http.MethodPost, Template: "/interactions/{interaction.id}/{interaction.token}/callback", Exempt: true}
)
