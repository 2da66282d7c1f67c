// Package env loads .env files into the process environment so proxy
// variables, HITWIRE_* defaults and HITWIRE_EXTRA_CA_CERTS can live next
// to a collection.
package env
