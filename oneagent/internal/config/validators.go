// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// InvalidEnv returns a string indicating invalid environment variables
func InvalidEnv(env string, val string) string {
	return fmt.Sprintf("invalid env, discarded - %s: \"%s\"", env, val)
}

// MissingEnv returns a string indicating missing environment variables
func MissingEnv(env string) string {
	return fmt.Sprintf("missing env - %s", env)
}

// IsValidFile checks if the string names an existing regular file.
func IsValidFile(file string) bool {
	fi, err := os.Stat(file)
	return err == nil && fi.Mode().IsRegular()
}

// IsValidURL checks if the string is an absolute http(s) URL.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ToInt64 converts a string to an int64
func ToInt64(i string) int64 {
	n, _ := strconv.ParseInt(i, 10, 64)
	return n
}

// MaskToken masks the middle part of a token. For example:
// token: "dt0c01.ABCDEFGHIJKLMNOP"
// masked:"dt0c***************MNOP"
func MaskToken(token string) string {
	var hLen, tLen = 4, 4
	var mask = "*"

	if len(token) <= hLen+tLen {
		return token
	}

	return token[0:hLen] + strings.Repeat(mask,
		utf8.RuneCountInString(token)-hLen-tLen) + token[len(token)-tLen:]
}
