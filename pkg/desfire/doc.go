/*
Package desfire implements the host-side core of the NXP DESFire smart-card
protocol stack: the three generations of mutual authentication (d40/legacy,
EV1, EV2), the secure-channel state each one establishes, the native and
ISO 7816 wire framings, the command-exchange engine that drives frame
chaining, and the full administrative/file/value/record command surface.

It consolidates what a caller needs to talk to a DESFire-family card into
one package:
  - Cryptographic primitives (DES/2TDEA/3TDEA/AES in CBC and ECB, CMAC per
    NIST SP 800-38B, ISO/IEC 9797-1 padding method 2, the AN10922 KDF)
  - Authentication (legacy/EV1 challenge-response, ISO external/internal
    authenticate, EV2 first/non-first authenticate) with session-key
    derivation
  - Secure messaging per channel generation (d40 CRC16+MAC4, EV1 CRC32,
    EV2 AES-CBC + CMAC-8 with a transaction identifier and command counter)
  - Frame chaining over the native and ISO APDU wire formats
  - The administrative, application, file, value, and record command
    surface, plus PICC/application/file-settings decoding

# Secure Channel Generations

Three independent secure-channel state machines share this package, chosen
by SecureChannel at Authenticate time:

	ChannelD40  legacy DES/3DES challenge-response, no-IV CBC construction,
	            CRC16/ISO-14443A integrity, 4-byte truncated MAC
	ChannelEV1  DES/2TDEA/3TDEA/AES challenge-response, zero-IV CBC,
	            CRC32 integrity appended before encryption
	ChannelEV2  AES-only, introduces a transaction identifier (TI) and a
	            monotonic command counter mixed into both the IV and the
	            MAC input; CMAC-8 truncated MAC, with CRC32 appended
	            before encryption in Encrypted mode

Authenticate clears any existing session before attempting a new one,
except for EV2 non-first authentication, which keeps the transaction
identifier and command counter of the running EV2 session; if that
handshake fails, the previous session keys stay in place.

# Session Key Derivation

d40 and EV1 derive a single session key from the two challenge nonces
(RndA, RndB) and reuse it for both encryption and MAC; EV2 derives two
independent keys (Kenc, Kmac) from the same nonces via AES-CMAC over two
session vectors differing only in their first two bytes. See
deriveSessionKeyEV1 and ev2SessionVector.

# Frame Chaining

Command payloads longer than the 54-byte frame limit are split by the
exchange engine into successive ADDITIONAL_FRAME (0xAF) exchanges, and
responses flagged ADDITIONAL_FRAME are collected with further 0xAF
requests when chaining is enabled; DesfireExchangeEx drives both for
the native and native-ISO command sets. JoinBlocks/SplitBlocks only
convert between a flat response and fixed-stride records.

# ChangeKey

ChangeKey (INS 0xC4) is special-cased outside the generic secure-channel
encode/decode path in every generation: its CRC scope covers the
instruction byte and key-number byte in addition to the key material, its
XOR-with-old-key step applies only when changing a key slot other than
the one currently authenticated, and the CRC is CRC16 under d40 and
CRC32 under both EV1 and EV2. See changeKeyEncrypt.
*/
package desfire
