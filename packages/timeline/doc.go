// Package timeline records the curl-like diagnostic trace of one logical
// request, including every redirect hop.
package timeline
