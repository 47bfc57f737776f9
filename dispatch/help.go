package dispatch

const helpText = `Virtual GPIO manager
 Usage:
    help                                 -- show this message
    get <pin>                            -- read a GPIO (0-54)
    set <pin> <value>                    -- drive a GPIO high (non zero) or low (0)
    set <signal> [delay]                 -- loop a signal, delay in seconds between samples
    stop                                 -- stop the looping signal
    toggle <pin>                         -- invert a GPIO
    signals                              -- list known signals
    status                               -- show the looping signal, if any
    history [count]                      -- show recent backend transactions
    read-area                            -- read entire GPIO area
    read-ic                              -- read entire interrupt controller area
    readl <address>                      -- read 32-bit from address
    writel <address> <value>             -- write 32-bit to address
    reload                               -- restart the control channel
    exit                                 -- exit program
 Numbers may be decimal, 0x hex or 0o octal.`

func Help() string {
	return helpText
}
