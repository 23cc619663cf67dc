// Package logx is subgate's thin layer over zerolog.
//
// It exists so callers pass around a small Logger value instead of a
// zerolog.Logger directly: console output stays human-readable (short
// timestamp, short caller) while the optional file sink writes JSON.
package logx
