package inverterclient

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// SIGNATURE_SEPARATOR is the provider's request-signing separator: the two
// literal characters backslash-r-backslash-n, NOT the CR+LF bytes \r\n.
// Signing with the actual control characters produces a byte-correct-looking
// but provider-rejected signature ("illegal signature") — this constant must
// be reproduced exactly (§4.3, §9).
const SIGNATURE_SEPARATOR = "\\r\\n"

// sign computes the provider's request signature:
// MD5(path + SIGNATURE_SEPARATOR + token + SIGNATURE_SEPARATOR + timestampMillis),
// hex-encoded lowercase.
func sign(path, token string, timestampMillis int64) string {
	payload := path + SIGNATURE_SEPARATOR + token + SIGNATURE_SEPARATOR + strconv.FormatInt(timestampMillis, 10)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
