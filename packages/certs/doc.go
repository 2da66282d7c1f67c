// Package certs aggregates the trust anchors used for outgoing TLS
// connections and loads per-domain client certificates.
//
// Four sources contribute to the bundle: the OS bundle file ("system"),
// per-certificate directories ("root"), a user supplied file ("custom")
// and the file named by HITWIRE_EXTRA_CA_CERTS ("extra"). The merged
// bundle never contains the same certificate twice.
package certs
