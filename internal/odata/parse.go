package odata

import (
	"net/url"
	"strconv"
	"strings"
)

// ParseRequest parses a resource path relative to the service root (for
// example "/Organizations('1')/Roles") and a raw query string.
func ParseRequest(resourcePath, rawQuery string) (*Request, error) {
	resource, err := ParseResourcePath(resourcePath)
	if err != nil {
		return nil, err
	}
	params, err := splitQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(params)
	if err != nil {
		return nil, err
	}
	return &Request{Resource: resource, Options: opts}, nil
}

// ParseResourcePath parses the path part of a request URL.
func ParseResourcePath(raw string) (ResourcePath, error) {
	var res ResourcePath
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return res, syntaxErrorf("resource path", -1, "entity set is required")
	}
	parts, err := splitTopLevel("resource path", trimmed, '/')
	if err != nil {
		return res, err
	}
	for i, part := range parts {
		switch part {
		case "$count":
			if i != len(parts)-1 || i == 0 {
				return res, syntaxErrorf("resource path", -1, "$count must be the last segment")
			}
			res.Count = true
			continue
		case "$value":
			if i != len(parts)-1 || len(res.Navigation) == 0 {
				return res, syntaxErrorf("resource path", -1, "$value must follow a stream property")
			}
			res.Value = true
			continue
		}
		name, key, err := parseKeyedSegment(part)
		if err != nil {
			return res, err
		}
		if i == 0 {
			res.EntitySet = name
			res.Key = key
			continue
		}
		res.Navigation = append(res.Navigation, PathSegment{Name: name, Key: key})
	}
	return res, nil
}

func parseKeyedSegment(part string) (string, []KeyValue, error) {
	open := strings.IndexByte(part, '(')
	if open < 0 {
		if part == "" {
			return "", nil, syntaxErrorf("resource path", -1, "empty segment")
		}
		return part, nil, nil
	}
	if !strings.HasSuffix(part, ")") || open == 0 {
		return "", nil, syntaxErrorf("resource path", -1, "malformed key predicate in %q", part)
	}
	name := part[:open]
	body := part[open+1 : len(part)-1]
	key, err := parseKeyPredicate(body)
	if err != nil {
		return "", nil, err
	}
	return name, key, nil
}

func parseKeyPredicate(body string) ([]KeyValue, error) {
	if strings.TrimSpace(body) == "" {
		return nil, syntaxErrorf("key predicate", -1, "key predicate is empty")
	}
	items, err := splitTopLevel("key predicate", body, ',')
	if err != nil {
		return nil, err
	}
	keys := make([]KeyValue, 0, len(items))
	for _, item := range items {
		name := ""
		valueText := item
		if eq := indexTopLevel(item, '='); eq >= 0 {
			name = strings.TrimSpace(item[:eq])
			valueText = item[eq+1:]
			if name == "" {
				return nil, syntaxErrorf("key predicate", -1, "key name is empty")
			}
		} else if len(items) > 1 {
			return nil, syntaxErrorf("key predicate", -1, "composite keys must be named")
		}
		value, err := parseLiteral("key predicate", strings.TrimSpace(valueText))
		if err != nil {
			return nil, err
		}
		keys = append(keys, KeyValue{Name: name, Value: value})
	}
	return keys, nil
}

type queryParam struct {
	name  string
	value string
}

// splitQuery splits a raw query string on '&' only. url.ParseQuery would
// reject the ';' separators used inside nested $expand options.
func splitQuery(rawQuery string) ([]queryParam, error) {
	var params []queryParam
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		decodedName, err := url.QueryUnescape(name)
		if err != nil {
			return nil, syntaxErrorf("query", -1, "cannot decode %q: %v", name, err)
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			return nil, syntaxErrorf(decodedName, -1, "cannot decode value: %v", err)
		}
		params = append(params, queryParam{name: decodedName, value: decodedValue})
	}
	return params, nil
}

// ParseQueryOptions parses a raw query string into options.
func ParseQueryOptions(rawQuery string) (QueryOptions, error) {
	params, err := splitQuery(rawQuery)
	if err != nil {
		return QueryOptions{}, err
	}
	return parseOptions(params)
}

func parseOptions(params []queryParam) (QueryOptions, error) {
	var opts QueryOptions
	seen := make(map[string]bool, len(params))
	for _, param := range params {
		name := strings.TrimSpace(param.name)
		if !strings.HasPrefix(name, "$") {
			// Custom query options are ignored.
			continue
		}
		if seen[name] {
			return opts, syntaxErrorf(name, -1, "option given more than once")
		}
		seen[name] = true
		if err := applyOption(&opts, name, param.value); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func applyOption(opts *QueryOptions, name, value string) error {
	switch name {
	case "$select":
		sel, err := parseSelect(value)
		if err != nil {
			return err
		}
		opts.Select = sel
	case "$expand":
		items, err := parseExpand(value)
		if err != nil {
			return err
		}
		opts.Expand = items
	case "$filter":
		expr, err := ParseFilter(value)
		if err != nil {
			return err
		}
		opts.Filter = expr
	case "$orderby":
		items, err := parseOrderBy(value)
		if err != nil {
			return err
		}
		opts.OrderBy = items
	case "$top", "$skip":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return syntaxErrorf(name, -1, "expected a non-negative integer, got %q", value)
		}
		if name == "$top" {
			opts.Top = &n
		} else {
			opts.Skip = &n
		}
	case "$count":
		switch strings.TrimSpace(value) {
		case "true":
			opts.Count = true
		case "false":
			opts.Count = false
		default:
			return syntaxErrorf(name, -1, "expected true or false, got %q", value)
		}
	case "$search":
		term := strings.TrimSpace(value)
		if len(term) >= 2 && term[0] == '"' && term[len(term)-1] == '"' {
			term = term[1 : len(term)-1]
		}
		if term == "" {
			return syntaxErrorf(name, -1, "search term is empty")
		}
		opts.Search = term
	case "$format":
		if v := strings.TrimSpace(value); v != "json" && !strings.HasPrefix(v, "application/json") {
			return syntaxErrorf(name, -1, "only json is supported")
		}
	default:
		return syntaxErrorf(name, -1, "unsupported system query option")
	}
	return nil
}

func parseSelect(value string) (*SelectOption, error) {
	items, err := splitTopLevel("$select", value, ',')
	if err != nil {
		return nil, err
	}
	sel := &SelectOption{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		switch {
		case item == "":
			return nil, syntaxErrorf("$select", -1, "empty select item")
		case item == "*":
			sel.All = true
		default:
			sel.Paths = append(sel.Paths, item)
		}
	}
	return sel, nil
}

func parseExpand(value string) ([]ExpandItem, error) {
	items, err := splitTopLevel("$expand", value, ',')
	if err != nil {
		return nil, err
	}
	out := make([]ExpandItem, 0, len(items))
	for _, raw := range items {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, syntaxErrorf("$expand", -1, "empty expand item")
		}
		item := ExpandItem{Path: raw}
		if open := strings.IndexByte(raw, '('); open >= 0 {
			if !strings.HasSuffix(raw, ")") {
				return nil, syntaxErrorf("$expand", -1, "unbalanced options in %q", raw)
			}
			item.Path = strings.TrimSpace(raw[:open])
			nested, err := splitTopLevel("$expand", raw[open+1:len(raw)-1], ';')
			if err != nil {
				return nil, err
			}
			params := make([]queryParam, 0, len(nested))
			for _, opt := range nested {
				if strings.TrimSpace(opt) == "" {
					continue
				}
				name, val, ok := strings.Cut(opt, "=")
				if !ok {
					return nil, syntaxErrorf("$expand", -1, "nested option %q has no value", opt)
				}
				params = append(params, queryParam{name: strings.TrimSpace(name), value: val})
			}
			opts, err := parseOptions(params)
			if err != nil {
				return nil, err
			}
			if opts.Search != "" {
				return nil, syntaxErrorf("$expand", -1, "$search is not supported inside $expand")
			}
			item.Options = opts
		}
		if item.Path == "" {
			return nil, syntaxErrorf("$expand", -1, "expand path is empty")
		}
		out = append(out, item)
	}
	return out, nil
}

func parseOrderBy(value string) ([]OrderByItem, error) {
	items, err := splitTopLevel("$orderby", value, ',')
	if err != nil {
		return nil, err
	}
	out := make([]OrderByItem, 0, len(items))
	for _, raw := range items {
		fields := strings.Fields(raw)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, syntaxErrorf("$orderby", -1, "malformed item %q", raw)
		}
		item := OrderByItem{Path: fields[0]}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				item.Desc = true
			default:
				return nil, syntaxErrorf("$orderby", -1, "unknown direction %q", fields[1])
			}
		}
		if strings.HasSuffix(item.Path, "/$count") {
			item.Path = strings.TrimSuffix(item.Path, "/$count")
			item.Count = true
		}
		out = append(out, item)
	}
	return out, nil
}

// splitTopLevel splits s on sep outside of parentheses and quoted strings.
func splitTopLevel(option, s string, sep byte) ([]string, error) {
	var parts []string
	depth := 0
	inString := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			inString = !inString
		case inString:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, syntaxErrorf(option, i, "unbalanced ')'")
			}
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if inString {
		return nil, syntaxErrorf(option, -1, "unterminated string literal")
	}
	if depth != 0 {
		return nil, syntaxErrorf(option, -1, "unbalanced '('")
	}
	return append(parts, s[start:]), nil
}

func indexTopLevel(s string, target byte) int {
	inString := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inString = !inString
		case !inString && c == target:
			return i
		}
	}
	return -1
}
