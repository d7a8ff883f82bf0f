/*
Package compiler is the backend driver.

	MIR module (mir, mirtext) ->
		validate ->
	SSA MIR ->
		passes pipeline (preopt, dce, ssa destruction, fuse cmp branch) ->
	non-SSA MIR ->
		layout ->
	frame offsets ->
		casm generate, link ->
	CASM program (listing, json)
*/
package compiler
