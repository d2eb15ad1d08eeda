// Package engine drives hook insertion over one decoded module.
//
// Pipeline:
//  1. Describe the original module for the glue
//  2. Dry-run every body to collect hook signatures, tables and local counts
//  3. Check limits, append hook imports, remap function references
//  4. Rewrite every body, registering one location per hook call
//  5. Generate the JavaScript glue and its manifest
package engine
