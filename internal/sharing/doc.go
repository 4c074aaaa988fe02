// Package sharing manages public share links and the anonymous viewer
// sessions that keep an owner's read-only share volume attached.
package sharing
