package cache

import "strings"

const sep = ":"

// Key places id under namespace ns, e.g. Key("weight", "momo") is "weight:momo".
func Key(ns, id string) string {
	return ns + sep + id
}

// Prefix is the listing prefix of namespace ns.
func Prefix(ns string) string {
	return ns + sep
}

// ID strips namespace ns from key.
func ID(ns, key string) string {
	return strings.TrimPrefix(key, Prefix(ns))
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// scanPattern matches every key starting with prefix literally.
func scanPattern(prefix string) string {
	return globEscaper.Replace(prefix) + "*"
}
