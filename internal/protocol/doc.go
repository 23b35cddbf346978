// Package protocol implements the framed binary datagram protocol spoken by
// Avcom single-board spectrum analyzers.
//
// Every datagram on the wire is
//
//	STX(0x02) | LEN_HI | LEN_LO | TYPE | PAYLOAD[LEN-1] | ETX(0x03)
//
// LEN is big-endian and counts the type byte plus the payload, so the total
// frame size is always LEN+4. Frequencies and spans travel as 4-byte
// big-endian integers holding round(MHz*10000).
//
// Settings request (type 0x04), offsets from the start of the frame:
//
//	4..7    center frequency
//	8..11   span
//	12      reference level code
//	13      resolution bandwidth code
//	14      RF input code
//	15      LNB power (0 off, 1 on)
//
// Hardware description response (type 0x07):
//
//	4       product id
//	5       firmware major
//	6       firmware minor
//	7       PCB revision
//	8..23   serial number, 16 raw characters
//	24..27  minimum frequency
//	28..31  maximum frequency
//	32..35  minimum span
//	36..39  maximum span
//	40..43  span step
//	44..46  calibration day, month, year-2000
//	47..49  board temperature current, min, max (signed, degrees C)
//	50      LNB capability flags (bit 0: LNB power supported)
//	51      LNB power configuration
//	52      available resolution bandwidth mask
//
// 8-bit waveform response (type 0x09):
//
//	4..323  320 unsigned sample bytes
//	324     product id
//	325..328 center frequency
//	329..332 span
//	333     reference level code
//	334     resolution bandwidth code
//	335     RF input code
//
// Error response (type 0x60) carries raw error text up to the trailer.
package protocol
